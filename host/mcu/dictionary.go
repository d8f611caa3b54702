package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Dictionary is the parsed MCU data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// param is one name=%fmt field of a message format.
type param struct {
	name  string
	bytes bool // %*s or %.*s
}

// format is a message signature resolved to its ID.
type format struct {
	id     uint16
	name   string
	params []param
}

// bootstrap formats are fixed so the dictionary itself can be fetched.
var (
	identifyResponse = mustFormat(0, "identify_response offset=%u data=%*s")
	identify         = mustFormat(1, "identify offset=%u count=%c")
)

func mustFormat(id int, sig string) format {
	f, err := parseFormat(id, sig)
	if err != nil {
		panic(err)
	}
	return f
}

func parseFormat(id int, sig string) (format, error) {
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return format{}, fmt.Errorf("empty message format")
	}
	f := format{id: uint16(id), name: fields[0]}
	for _, field := range fields[1:] {
		name, verb, ok := strings.Cut(field, "=")
		if !ok || !strings.HasPrefix(verb, "%") {
			return format{}, fmt.Errorf("bad parameter %q in %q", field, sig)
		}
		f.params = append(f.params, param{
			name:  name,
			bytes: strings.HasSuffix(verb, "s"),
		})
	}
	return f, nil
}

// inflate undoes the firmware's zlib wrapping. Plain JSON passes through.
func inflate(data []byte) ([]byte, error) {
	if len(data) > 0 && data[0] == '{' {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("dictionary is neither JSON nor zlib: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// parseDictionary decodes the dictionary and indexes its messages by name.
func parseDictionary(raw []byte) (*Dictionary, map[string]format, map[uint16]format, error) {
	data, err := inflate(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	var d Dictionary
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, nil, nil, fmt.Errorf("parse dictionary: %w", err)
	}

	commands := make(map[string]format, len(d.Commands))
	for sig, id := range d.Commands {
		f, err := parseFormat(id, sig)
		if err != nil {
			return nil, nil, nil, err
		}
		commands[f.name] = f
	}
	responses := make(map[uint16]format, len(d.Responses))
	for sig, id := range d.Responses {
		f, err := parseFormat(id, sig)
		if err != nil {
			return nil, nil, nil, err
		}
		responses[f.id] = f
	}
	return &d, commands, responses, nil
}

// Enum returns the value of name in an enumeration.
func (d *Dictionary) Enum(enum, name string) (int, bool) {
	v, ok := d.Enumerations[enum][name]
	return v, ok
}

// ConfigInt returns a numeric dictionary constant.
func (d *Dictionary) ConfigInt(name string) (int64, bool) {
	v, ok := d.Config[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}
