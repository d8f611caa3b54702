package core

import (
	"sort"
	"strconv"
	"sync"

	"ledwire/tinycompress"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or integer
}

// Enumeration represents an enumeration of values (like chip names)
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the data dictionary the host retrieves through identify.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte // compressed, set by BuildDictionary
	cachedGen     uint32 // registry generation cachedDict was built from
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a command registry
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "ledwire-0.1.0",
		buildVersions: "go",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
}

// AddEnumeration adds an enumeration to the dictionary
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = &Enumeration{
		Name:   name,
		Values: append([]string(nil), values...),
	}
	d.cachedDict = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cachedDict = nil
}

// SetBuildVersions sets the build versions string
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
}

// BuildDictionary compresses and caches the dictionary. Call it after all
// commands are registered.
func (d *Dictionary) BuildDictionary() {
	// Snapshot the registry before taking our own lock.
	gen := d.commandReg.Generation()
	entries := d.commandReg.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.buildJSONLocked(entries)
	compressed, err := tinycompress.Compress(jsonData)
	if err != nil {
		DebugPrintln("[dict] compression failed: " + err.Error())
		d.cachedDict = jsonData
		return
	}
	d.cachedDict = compressed
	d.cachedGen = gen
	DebugPrintln("[dict] " + itoa(len(jsonData)) + " bytes, " + itoa(len(compressed)) + " compressed")
}

// Generate returns the compressed dictionary, building it on first use.
func (d *Dictionary) Generate() []byte {
	gen := d.commandReg.Generation()
	d.mu.RLock()
	cached, cachedGen := d.cachedDict, d.cachedGen
	d.mu.RUnlock()
	if cached != nil && cachedGen == gen {
		return cached
	}
	d.BuildDictionary()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cachedDict
}

// JSON returns the uncompressed dictionary.
func (d *Dictionary) JSON() []byte {
	entries := d.commandReg.Entries()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(entries)
}

func appendQuoted(b []byte, s string) []byte {
	return strconv.AppendQuote(b, s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildJSONLocked renders the Klipper dictionary layout (caller holds d.mu)
func (d *Dictionary) buildJSONLocked(entries []Command) []byte {
	b := make([]byte, 0, 1024)
	b = append(b, `{"version":`...)
	b = appendQuoted(b, d.version)
	b = append(b, `,"build_versions":`...)
	b = appendQuoted(b, d.buildVersions)

	b = append(b, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendQuoted(b, name)
		b = append(b, ':')
		b = appendQuoted(b, valueToString(d.constants[name].Value))
	}
	b = append(b, '}')

	for _, section := range []struct {
		key       string
		responses bool
	}{{"commands", false}, {"responses", true}} {
		b = append(b, ',')
		b = appendQuoted(b, section.key)
		b = append(b, ":{"...)
		first := true
		for _, cmd := range entries {
			if cmd.IsResponse() != section.responses {
				continue
			}
			if !first {
				b = append(b, ',')
			}
			first = false
			b = appendQuoted(b, cmd.Signature())
			b = append(b, ':')
			b = strconv.AppendInt(b, int64(cmd.ID), 10)
		}
		b = append(b, '}')
	}

	if len(d.enumerations) > 0 {
		b = append(b, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendQuoted(b, name)
			b = append(b, ":{"...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					b = append(b, ',')
				}
				first = false
				b = appendQuoted(b, value)
				b = append(b, ':')
				b = strconv.AppendInt(b, int64(idx), 10)
			}
			b = append(b, '}')
		}
		b = append(b, '}')
	}
	return append(b, '}')
}

// GetChunk returns a copy of count bytes of the compressed dictionary
// starting at offset. Past the end it returns an empty slice.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
