// Package control implements the local control-socket protocol: the
// newline-delimited JSON request/reply wire format and the Unix-socket
// server that accepts CLI connections and forwards commands to the
// reactor.
package control

import (
	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
)

// Kind discriminates the FromClient command union.
type Kind string

const (
	SetCharging      Kind = "set_charging"
	SetLoad          Kind = "set_load"
	SetPhySolar      Kind = "set_phy_solar"
	SetPhyBattery    Kind = "set_phy_battery"
	SetPhyMaster     Kind = "set_phy_master"
	ResetController  Kind = "reset_controller"
	LogRotated       Kind = "log_rotated"
	Stop             Kind = "stop"
	TailStats        Kind = "tail_stats"
	ReadSettings     Kind = "read_settings"
	WriteSettingsCmd Kind = "write_settings"
)

// FromClient is the tagged union of every command a local or remote actor
// can send to the reactor.
type FromClient struct {
	Cmd      Kind           `json:"cmd"`
	Bool     bool           `json:"bool,omitempty"`
	Settings *mppt.Settings `json:"settings,omitempty"`
}

// ReplyKind discriminates the ToClient reply union.
type ReplyKind string

const (
	ReplyOk       ReplyKind = "ok"
	ReplyErr      ReplyKind = "err"
	ReplyStats    ReplyKind = "stats"
	ReplySettings ReplyKind = "settings"
)

// ToClient is the tagged union of every reply the reactor can send back.
type ToClient struct {
	Kind     ReplyKind       `json:"kind"`
	Err      string          `json:"err,omitempty"`
	Stats    *stats.Envelope `json:"stats,omitempty"`
	Settings *mppt.Settings  `json:"settings,omitempty"`
}

func Ok() ToClient                       { return ToClient{Kind: ReplyOk} }
func Err(msg string) ToClient            { return ToClient{Kind: ReplyErr, Err: msg} }
func StatsReply(e stats.Envelope) ToClient { return ToClient{Kind: ReplyStats, Stats: &e} }
func SettingsReply(s mppt.Settings) ToClient {
	return ToClient{Kind: ReplySettings, Settings: &s}
}

// Command pairs a decoded request with the bounded reply channel the
// issuer will drain. A capacity-100 channel matches the bound used
// throughout the supervisor's message-passing paths.
type Command struct {
	Req   FromClient
	Reply chan ToClient
}

// NewReplyChan returns a reply channel sized per the supervisor's
// standard bound.
func NewReplyChan() chan ToClient {
	return make(chan ToClient, 100)
}
