// Package generator provides event-generator backends for the injection
// spectrum builder: a local subprocess and a remote HTTP service, both
// speaking one JSON object per event per line.
package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go-hep.org/x/hep/fmom"

	"github.com/rcliao/dm21cm/internal/injection"
)

// eventLine is one line of generator output.
type eventLine struct {
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Particles []particleLine `json:"particles"`
}

type particleLine struct {
	ID int     `json:"id"`
	Px float64 `json:"px"`
	Py float64 `json:"py"`
	Pz float64 `json:"pz"`
	E  float64 `json:"e"`
}

// lineStream decodes JSON lines from r until EOF.
type lineStream struct {
	sc      *bufio.Scanner
	closer  io.Closer
	onClose func() error
	line    int
}

func newLineStream(r io.ReadCloser, onClose func() error) *lineStream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &lineStream{sc: sc, closer: r, onClose: onClose}
}

func (s *lineStream) Next() (injection.Event, error) {
	for s.sc.Scan() {
		s.line++
		b := bytes.TrimSpace(s.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev eventLine
		if err := json.Unmarshal(b, &ev); err != nil {
			return injection.Event{}, fmt.Errorf("generator output line %d: %w", s.line, err)
		}
		if ev.Status != "" && ev.Status != "ok" {
			return injection.Event{}, injection.ErrEventFailed
		}
		out := injection.Event{Particles: make([]injection.Particle, len(ev.Particles))}
		for i, p := range ev.Particles {
			out.Particles[i] = injection.Particle{PDG: p.ID, P: fmom.NewPxPyPzE(p.Px, p.Py, p.Pz, p.E)}
		}
		return out, nil
	}
	if err := s.sc.Err(); err != nil {
		return injection.Event{}, fmt.Errorf("read generator output: %w", err)
	}
	return injection.Event{}, io.EOF
}

func (s *lineStream) Close() error {
	err := s.closer.Close()
	if s.onClose != nil {
		if cerr := s.onClose(); err == nil {
			err = cerr
		}
	}
	return err
}

// --- Subprocess backend ---

// Exec runs an external generator program. The request is passed as flags
// appended to Args:
//
//	--channel bb --ecm 200 --events 10000 --seed 1
type Exec struct {
	Path string
	Args []string
	Env  []string
}

// NewExec splits a command line into program and leading arguments.
func NewExec(command string) (*Exec, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty generator command")
	}
	return &Exec{Path: fields[0], Args: fields[1:]}, nil
}

func requestArgs(req injection.Request) []string {
	return []string{
		"--channel", req.Channel.String(),
		"--ecm", strconv.FormatFloat(req.ECMGeV, 'g', -1, 64),
		"--events", strconv.Itoa(req.Events),
		"--seed", strconv.FormatInt(req.Seed, 10),
		"--pdg", strconv.Itoa(req.PDG),
	}
}

// ID is the command line the generator runs.
func (g *Exec) ID() string {
	return "exec:" + strings.Join(append([]string{g.Path}, g.Args...), " ")
}

func (g *Exec) Generate(ctx context.Context, req injection.Request) (injection.EventStream, error) {
	args := append(append([]string(nil), g.Args...), requestArgs(req)...)
	cmd := exec.CommandContext(ctx, g.Path, args...)
	cmd.Env = append(os.Environ(), g.Env...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", g.Path, err)
	}
	return newLineStream(stdout, func() error {
		if cmd.ProcessState == nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}), nil
}

// --- HTTP backend ---

// HTTP posts the request as JSON to BaseURL+"/generate" and reads the
// event lines from the response body.
type HTTP struct {
	baseURL string
	client  *http.Client
}

type httpRequest struct {
	Channel string  `json:"channel"`
	PDG     int     `json:"pdg"`
	ECM     float64 `json:"ecm_gev"`
	Events  int     `json:"events"`
	Seed    int64   `json:"seed"`
}

// NewHTTP creates a client for a generator service.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ID is the service base URL.
func (g *HTTP) ID() string { return "http:" + g.baseURL }

func (g *HTTP) Generate(ctx context.Context, req injection.Request) (injection.EventStream, error) {
	body, _ := json.Marshal(httpRequest{
		Channel: req.Channel.String(),
		PDG:     req.PDG,
		ECM:     req.ECMGeV,
		Events:  req.Events,
		Seed:    req.Seed,
	})
	hreq, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/x-ndjson")

	resp, err := g.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("generator request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("generator error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return newLineStream(resp.Body, nil), nil
}

// --- Factory ---

// Config selects a backend.
type Config struct {
	Provider string        `yaml:"provider" validate:"omitempty,oneof=exec http"` // "" disables
	Command  string        `yaml:"command" validate:"required_if=Provider exec"`
	URL      string        `yaml:"url" validate:"required_if=Provider http"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// New builds the configured generator, or nil when none is configured.
func New(cfg Config) (injection.Generator, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "exec":
		g, err := NewExec(cfg.Command)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http generator needs a url")
		}
		return NewHTTP(cfg.URL, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
}
