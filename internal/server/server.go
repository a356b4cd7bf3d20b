// Package server exposes the pipeline over HTTP/3 for editor and playground
// clients. Requests carry a typed AST as JSON; responses carry diagnostics
// and, for /v1/lower, the lowered module.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asbel-lang/asbel/internal/ast"
	"github.com/asbel-lang/asbel/internal/cli"
	"github.com/asbel-lang/asbel/internal/compiler"
	"github.com/asbel-lang/asbel/internal/diagnostic"
	asberr "github.com/asbel-lang/asbel/internal/errors"
	"github.com/asbel-lang/asbel/internal/ir"
	"github.com/asbel-lang/asbel/internal/vm"
)

// MaxBodyBytes bounds the size of a request body.
const MaxBodyBytes = 8 << 20

// Response is the JSON body of every analysis endpoint.
type Response struct {
	OK          bool                     `json:"ok"`
	Summary     string                   `json:"summary,omitempty"`
	Diagnostics []*diagnostic.Diagnostic `json:"diagnostics"`
	Truncated   bool                     `json:"truncated,omitempty"`
	Module      *ir.Module               `json:"module,omitempty"`
	Run         *RunResult               `json:"run,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// RunResult reports one execution of the entry function.
type RunResult struct {
	Entry string   `json:"entry"`
	Value string   `json:"value,omitempty"`
	Error string   `json:"error,omitempty"`
	Trace []string `json:"trace"`
}

// Handler serves the analysis endpoints.
type Handler struct {
	cfg   *cli.Config
	log   *cli.Logger
	cache *ResponseCache
	mux   *http.ServeMux
	// RunTimeout bounds /v1/run executions.
	RunTimeout time.Duration
}

// NewHandler creates a handler using cfg for compiler options and the
// accepted schema range.
func NewHandler(cfg *cli.Config, log *cli.Logger) *Handler {
	if log == nil {
		log = cli.Discard()
	}
	h := &Handler{cfg: cfg, log: log, cache: NewResponseCache(0), mux: http.NewServeMux(), RunTimeout: 5 * time.Second}
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h.mux.HandleFunc("GET /v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cli.GetVersionInfo())
	})
	h.mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.cache.Stats())
	})
	h.mux.HandleFunc("DELETE /v1/cache", func(w http.ResponseWriter, r *http.Request) {
		h.cache.Invalidate()
		h.log.Info("response cache flushed")
		writeJSON(w, http.StatusOK, h.cache.Stats())
	})
	h.mux.HandleFunc("POST /v1/check", h.cached("check", h.check))
	h.mux.HandleFunc("POST /v1/lower", h.cached("lower", h.lower))
	h.mux.HandleFunc("POST /v1/run", h.run)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.log.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
}

// Cache exposes the response cache.
func (h *Handler) Cache() *ResponseCache { return h.cache }

type endpoint func(ctx context.Context, prog *ast.Program, r *http.Request) (int, *Response)

// cached decodes the body, answers from the cache when possible and stores
// fresh responses.
func (h *Handler) cached(name string, fn endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, &Response{Error: err.Error()})
			return
		}
		key := KeyFor(name, body)
		if status, data, ok := h.cache.Get(key); ok {
			w.Header().Set("X-Cache", "hit")
			writeRaw(w, status, data)
			return
		}
		prog, status, resp := h.decode(body)
		if prog != nil {
			status, resp = fn(r.Context(), prog, r)
		}
		data, err := json.Marshal(resp)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, &Response{Error: err.Error()})
			return
		}
		if r.Context().Err() == nil {
			h.cache.Put(key, status, data)
		}
		w.Header().Set("X-Cache", "miss")
		writeRaw(w, status, data)
	}
}

func (h *Handler) decode(body []byte) (*ast.Program, int, *Response) {
	prog, err := ast.DecodeWithConstraint(bytes.NewReader(body), h.cfg.Schema)
	if err == nil {
		return prog, http.StatusOK, nil
	}
	status := http.StatusBadRequest
	if asberr.Is(err, asberr.CategorySchema) {
		status = http.StatusUnprocessableEntity
	}
	return nil, status, &Response{Error: err.Error()}
}

func (h *Handler) compile(ctx context.Context, prog *ast.Program) (*compiler.Result, error) {
	c := compiler.New(compiler.Options{
		Workers:          h.cfg.Workers,
		MaxErrors:        h.cfg.MaxErrors,
		WarningsAsErrors: h.cfg.WarningsAsErrors,
		WarnDeferred:     h.cfg.WarnDeferred,
	}, h.log)
	return c.Compile(ctx, prog)
}

func report(res *compiler.Result) *Response {
	return &Response{
		OK:          res.Err() == nil,
		Summary:     diagnostic.Summary(res.Diagnostics),
		Diagnostics: res.Diagnostics,
		Truncated:   res.Truncated,
	}
}

func (h *Handler) check(ctx context.Context, prog *ast.Program, _ *http.Request) (int, *Response) {
	res, err := h.compile(ctx, prog)
	if err != nil {
		return http.StatusServiceUnavailable, &Response{Error: err.Error()}
	}
	return http.StatusOK, report(res)
}

func (h *Handler) lower(ctx context.Context, prog *ast.Program, _ *http.Request) (int, *Response) {
	res, err := h.compile(ctx, prog)
	if err != nil {
		return http.StatusServiceUnavailable, &Response{Error: err.Error()}
	}
	resp := report(res)
	resp.Module = res.Module
	return http.StatusOK, resp
}

// run compiles the body and calls the entry function (the `entry` query
// parameter, or the configured one) without arguments.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, &Response{Error: err.Error()})
		return
	}
	prog, status, resp := h.decode(body)
	if prog == nil {
		writeJSON(w, status, resp)
		return
	}
	res, err := h.compile(r.Context(), prog)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, &Response{Error: err.Error()})
		return
	}
	resp = report(res)
	if !resp.OK {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	entry := r.URL.Query().Get("entry")
	if entry == "" {
		entry = h.cfg.Entry
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.RunTimeout)
	defer cancel()
	m := vm.New(res.Module, vm.WithLogger(h.log))
	v, err := m.Call(ctx, entry)
	run := &RunResult{Entry: entry, Trace: []string{}}
	if err != nil {
		run.Error = err.Error()
		resp.OK = false
	} else if v != nil {
		run.Value = fmt.Sprint(v)
	}
	for _, e := range m.Trace() {
		run.Trace = append(run.Trace, e.String())
	}
	resp.Run = run
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
