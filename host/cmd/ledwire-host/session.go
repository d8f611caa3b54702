package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"ledwire/config"
	"ledwire/core"
	"ledwire/host/mcu"
	"ledwire/nrz"
)

// client is the part of *mcu.MCU the prompt uses.
type client interface {
	Dictionary() *mcu.Dictionary
	Query(ctx context.Context, name string, args []any, response string, match func(mcu.Response) bool) (mcu.Response, error)
	Send(ctx context.Context, name string, args ...any) error
	SendPixels(ctx context.Context, oid uint8, pixels []uint32) error
	SetIRDataCheck(ctx context.Context, oid uint8, check core.DataCheck) error
	EnableIR(ctx context.Context, oid uint8) error
	QueryIR(ctx context.Context, oid uint8) (mcu.IREvent, error)
}

var errUsage = errors.New("usage")

type session struct {
	mcu   client
	cfg   *config.BoardConfig
	out   io.Writer
	frame []uint32
}

func newSession(m client, cfg *config.BoardConfig, out io.Writer) *session {
	return &session{
		mcu:   m,
		cfg:   cfg,
		out:   out,
		frame: make([]uint32, cfg.Strip.Pixels),
	}
}

// execLine runs one prompt line and reports whether the user asked to quit.
func (s *session) execLine(ctx context.Context, line string) (bool, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		s.help()
	case "dict":
		s.printDictionary()
	case "fill":
		if err = s.fill(args); err == nil {
			err = s.mcu.SendPixels(ctx, s.cfg.Strip.OID, s.frame)
		}
	case "set":
		err = s.set(args)
	case "show":
		err = s.mcu.SendPixels(ctx, s.cfg.Strip.OID, s.frame)
	case "clear":
		clear(s.frame)
		err = s.mcu.SendPixels(ctx, s.cfg.Strip.OID, s.frame)
	case "ir-check":
		err = s.irCheck(ctx, args)
	case "ir-enable":
		err = s.mcu.EnableIR(ctx, s.cfg.IR.OID)
	case "ir-query":
		err = s.irQuery(ctx)
	case "get_config", "get_clock", "get_uptime":
		err = s.query(ctx, cmd)
	case "send":
		err = s.raw(ctx, args)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	if errors.Is(err, errUsage) {
		return false, fmt.Errorf("usage: %s", usage[cmd])
	}
	return false, err
}

var usage = map[string]string{
	"fill":     "fill COLOR",
	"set":      "set INDEX COLOR [COLOR...]",
	"ir-check": "ir-check none|command|address|all",
	"send":     "send NAME [ARG...]",
}

func (s *session) help() {
	fmt.Fprintln(s.out, `Commands:
  fill COLOR                 set every pixel and send
  set INDEX COLOR [COLOR...] stage pixels starting at INDEX
  show                       send the staged frame
  clear                      turn every pixel off
  ir-check MODE              none, command, address or all
  ir-enable                  re-arm the IR receiver
  ir-query                   show the last IR word
  get_config | get_clock | get_uptime
  send NAME [ARG...]         send a raw command (integer args)
  dict                       dictionary summary
  quit
Colors are rrggbb, 0xrrggbb, "#rrggbb" or "r,g,b". An unquoted # starts a comment.`)
}

// parseColor accepts rrggbb, #rrggbb, 0xrrggbb or r,g,b.
func parseColor(s string) (uint32, error) {
	if parts := strings.Split(s, ","); len(parts) == 3 {
		var rgb [3]byte
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return 0, fmt.Errorf("bad color %q", s)
			}
			rgb[i] = byte(v)
		}
		return nrz.PackRGB(rgb[0], rgb[1], rgb[2]), nil
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "#"), "0x")
	if len(hex) != 6 {
		return 0, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad color %q", s)
	}
	return uint32(v), nil
}

func (s *session) fill(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c, err := parseColor(args[0])
	if err != nil {
		return err
	}
	for i := range s.frame {
		s.frame[i] = c
	}
	return nil
}

func (s *session) set(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 {
		return errUsage
	}
	if idx+len(args)-1 > len(s.frame) {
		return fmt.Errorf("strip has %d pixels", len(s.frame))
	}
	for i, a := range args[1:] {
		c, err := parseColor(a)
		if err != nil {
			return err
		}
		s.frame[idx+i] = c
	}
	return nil
}

func (s *session) irCheck(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	check, err := config.ParseDataCheck(args[0])
	if err != nil {
		return err
	}
	return s.mcu.SetIRDataCheck(ctx, s.cfg.IR.OID, check)
}

func (s *session) irQuery(ctx context.Context) error {
	ev, err := s.mcu.QueryIR(ctx, s.cfg.IR.OID)
	if err != nil {
		return err
	}
	valid, addr, cmd := ev.NEC()
	fmt.Fprintf(s.out, "code=0x%08x bits=%d nec=%v address=0x%04x command=0x%02x\n",
		ev.Code, ev.Bits, valid, addr, cmd)
	return nil
}

var queryResponses = map[string]string{
	"get_config": "config",
	"get_clock":  "clock",
	"get_uptime": "uptime",
}

func (s *session) query(ctx context.Context, name string) error {
	resp, err := s.mcu.Query(ctx, name, nil, queryResponses[name], nil)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(resp.Ints))
	for k := range resp.Ints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprint(s.out, resp.Name)
	for _, k := range keys {
		fmt.Fprintf(s.out, " %s=%d", k, resp.Ints[k])
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *session) raw(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	vals := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseInt(a, 0, 32)
		if err != nil {
			return fmt.Errorf("argument %q is not an integer", a)
		}
		vals = append(vals, int(v))
	}
	return s.mcu.Send(ctx, args[0], vals...)
}

func (s *session) printDictionary() {
	d := s.mcu.Dictionary()
	if d == nil {
		fmt.Fprintln(s.out, "No dictionary loaded")
		return
	}
	fmt.Fprintf(s.out, "Version: %s (%s)\n", d.Version, d.BuildVersions)
	for _, section := range []struct {
		title string
		m     map[string]int
	}{{"Commands", d.Commands}, {"Responses", d.Responses}} {
		names := make([]string, 0, len(section.m))
		for sig := range section.m {
			names = append(names, sig)
		}
		sort.Slice(names, func(i, j int) bool { return section.m[names[i]] < section.m[names[j]] })
		fmt.Fprintf(s.out, "%s (%d):\n", section.title, len(names))
		for _, sig := range names {
			fmt.Fprintf(s.out, "  [%d] %s\n", section.m[sig], sig)
		}
	}
}
