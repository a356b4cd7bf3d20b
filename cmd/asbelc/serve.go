package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/asbel-lang/asbel/internal/server"
)

func serveCmd(args []string, stdout, stderr io.Writer) int {
	c := newCommon("serve", stderr)
	addr := c.fs.String("addr", "", "UDP address to listen on (default from config)")
	cert := c.fs.String("cert", "", "TLS certificate file (self-signed when empty)")
	key := c.fs.String("key", "", "TLS key file")
	if err := c.parse(args); err != nil {
		return usageError(err, stderr)
	}
	sc := c.cfg.Serve
	if *addr != "" {
		sc.Addr = *addr
	}
	if *cert != "" {
		sc.CertFile, sc.KeyFile = *cert, *key
	}

	tlsCfg, err := server.LoadTLS(sc.CertFile, sc.KeyFile, sc.Addr)
	if err != nil {
		c.log.Error("%v", err)
		return 1
	}
	s := server.NewHTTP3Server(sc.Addr, tlsCfg, server.NewHandler(c.cfg, c.log))
	bound, err := s.Start()
	if err != nil {
		c.log.Error("failed to listen on %s: %v", sc.Addr, err)
		return 1
	}
	fmt.Fprintf(stdout, "serving HTTP/3 on %s\n", bound)
	if sc.CertFile == "" {
		c.log.Warn("using a self-signed certificate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	c.log.Info("shutting down")
	if err := s.Stop(); err != nil {
		c.log.Error("%v", err)
		return 1
	}
	return 0
}
