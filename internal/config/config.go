// Package config defines the runtime Config (not negotiated with the peer)
// and the negotiated Params exchanged over the control channel at
// PARAM_EXCHANGE, plus the bandwidth-string parser and JSON file loaders
// that stand in for the out-of-scope CLI flag-to-parameter mapping.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default buffer sizes and intervals, in the teacher's style of a small
// named-constant block rather than magic numbers scattered through callers.
const (
	DefaultControlPort = 5201
	DefaultDataPort    = 5201
	DefaultInterval    = 1.0
	DefaultTCPLen      = 131072
)

// Config holds parameters local to one side of the test that are never
// negotiated with the peer over the wire (spec §3 Config, §6 configuration
// inputs).
type Config struct {
	Target     string  `json:"target"`
	ConfigPort int     `json:"config_port"`
	DataPort   int     `json:"data_port"`
	Interval   float64 `json:"interval"`
	Bitrate    int64   `json:"bitrate,omitempty"`
	Compat     bool    `json:"compat,omitempty"`
	Plugin     string  `json:"plugin,omitempty"`
}

// Params holds the test parameters negotiated with the peer and serialized
// as JSON at PARAM_EXCHANGE (spec §3 Params). Fields from the reference
// parameter set that this core does not interpret are preserved verbatim
// through Extra so the struct remains wire-compatible with the full
// reference field set (spec.md §9 "dynamic parameter bag").
type Params struct {
	TCP           bool `json:"tcp,omitempty"`
	UDP           bool `json:"udp,omitempty"`
	Time          int  `json:"time"`
	Parallel      int  `json:"parallel"`
	Len           int  `json:"len,omitempty"`
	MSS           int  `json:"mss,omitempty"`
	Reverse       bool `json:"reverse,omitempty"`
	UDPCounters64 bool `json:"udp_counters_64bit,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges the typed fields with Extra so unknown reference
// fields round-trip unmodified.
func (p Params) MarshalJSON() ([]byte, error) {
	type alias Params
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}

	if len(p.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and retains every field name in
// Extra as well, so the pass-through copy is complete even for fields this
// core also interprets.
func (p *Params) UnmarshalJSON(data []byte) error {
	type alias Params
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Params(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Extra = raw
	return nil
}

// Transport reports which transport the params selected. At most one of
// TCP/UDP may be set (spec §3 invariant "at most one transport kind active
// per test").
func (p Params) Transport() string {
	if p.UDP {
		return "udp"
	}
	return "tcp"
}

// MaxPacketSize returns the configured MSS if set, else Len (spec §4.5).
func (p Params) MaxPacketSize() int {
	if p.MSS > 0 {
		return p.MSS
	}
	return p.Len
}

// LoadConfig reads a JSON config file into a Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadParams reads a JSON params file into a Params.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &params, nil
}
