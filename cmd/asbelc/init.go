package main

import (
	"fmt"
	"io"
	"os"
)

// initCmd writes the effective configuration, defaults plus any flags given,
// to the -config path.
func initCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommon("init", stderr)
	force := c.fs.Bool("force", false, "overwrite an existing configuration file")
	if err := c.parse(args); err != nil {
		return usageError(err, stderr)
	}
	if _, err := os.Stat(c.configPath); err == nil && !*force {
		c.log.Error("%s already exists (use -force to overwrite)", c.configPath)
		return 1
	}
	if err := c.cfg.SaveConfig(c.configPath); err != nil {
		c.log.Error("%v", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", c.configPath)
	return 0
}
