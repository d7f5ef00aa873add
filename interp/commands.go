package interp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"gpibridge/config"
	"gpibridge/core"
)

// DefaultCommandTable returns the full built-in ++-command set, each
// token registered with the roles (device, controller or both) it is
// valid in.
func DefaultCommandTable() *CommandTable {
	t := NewCommandTable()

	t.RegisterCommand("!", ModeBoth, bangHandler)
	t.RegisterCommand("addr", ModeBoth, addrHandler)
	t.RegisterCommand("allspoll", ModeController, allSpollHandler)
	t.RegisterCommand("auto", ModeController, autoHandler)
	t.RegisterCommand("clr", ModeController, clrHandler)
	t.RegisterCommand("dcl", ModeController, dclHandler)
	t.RegisterCommand("default", ModeBoth, defaultHandler)
	t.RegisterCommand("eoi", ModeBoth, eoiHandler)
	t.RegisterCommand("eor", ModeBoth, eorHandler)
	t.RegisterCommand("eos", ModeBoth, eosHandler)
	t.RegisterCommand("eot_char", ModeBoth, eotCharHandler)
	t.RegisterCommand("eot_enable", ModeBoth, eotEnableHandler)
	t.RegisterCommand("help", ModeBoth, helpHandler)
	t.RegisterCommand("ifc", ModeController, ifcHandler)
	t.RegisterCommand("id", ModeBoth, idHandler)
	t.RegisterCommand("idn", ModeBoth, idnHandler)
	t.RegisterCommand("llo", ModeController, lloHandler)
	t.RegisterCommand("loc", ModeController, locHandler)
	t.RegisterCommand("lon", ModeDevice, lonHandler)
	t.RegisterCommand("macro", ModeController, macroHandler)
	t.RegisterCommand("mla", ModeController, mlaHandler)
	t.RegisterCommand("mode", ModeBoth, modeHandler)
	t.RegisterCommand("msa", ModeController, msaHandler)
	t.RegisterCommand("mta", ModeController, mtaHandler)
	t.RegisterCommand("ppoll", ModeController, ppollHandler)
	t.RegisterCommand("prom", ModeDevice, promHandler)
	t.RegisterCommand("read", ModeController, readHandler)
	t.RegisterCommand("read_tmo_ms", ModeController, readTmoHandler)
	t.RegisterCommand("ren", ModeController, renHandler)
	t.RegisterCommand("repeat", ModeController, repeatHandler)
	t.RegisterCommand("rst", ModeBoth, rstHandler)
	t.RegisterCommand("trg", ModeController, trgHandler)
	t.RegisterCommand("savecfg", ModeBoth, saveHandler)
	t.RegisterCommand("setvstr", ModeBoth, setvstrHandler)
	t.RegisterCommand("spoll", ModeController, spollHandler)
	t.RegisterCommand("srq", ModeController, srqHandler)
	t.RegisterCommand("srqauto", ModeController, srqAutoHandler)
	t.RegisterCommand("stat", ModeDevice, statusHandler)
	t.RegisterCommand("status", ModeDevice, statusHandler)
	t.RegisterCommand("ton", ModeDevice, tonHandler)
	t.RegisterCommand("unl", ModeController, unlHandler)
	t.RegisterCommand("unt", ModeController, untHandler)
	t.RegisterCommand("ver", ModeBoth, verHandler)
	t.RegisterCommand("verbose", ModeBoth, verboseHandler)
	t.RegisterCommand("xdiag", ModeBoth, xdiagHandler)

	return t
}

// bangHandler implements ++!, the transfer-cancel token. By the time this
// handler runs the command has already reached the front of the line
// queue, so most of its work is done by hostlink's background scanner
// noticing "++!" while a read or write is still in flight and calling
// Engine.RequestAbort directly; this handler just covers the case where
// the token arrives between transfers, with nothing to cancel yet.
func bangHandler(s *Session, _ string) (string, error) {
	s.Engine.RequestAbort()
	return "", nil
}

func addrHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.PrimaryAddr)), nil
	}
	v, bad := notInRange(params, 1, 30)
	if bad {
		return "", fmt.Errorf("interp: addr must be 1-30")
	}
	s.Cfg.PrimaryAddr = uint8(v)
	return "", nil
}

func allSpollHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	results := s.Engine.SerialPollAll(ctx)

	var b strings.Builder
	for addr := uint8(0); addr <= 30; addr++ {
		if status, ok := results[addr]; ok && status&0x40 != 0 {
			fmt.Fprintf(&b, "SRQ:%d,%d\n", addr, status)
		}
	}
	return b.String(), nil
}

func autoHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.AutoMode)), nil
	}
	v, bad := notInRange(params, 0, 3)
	if bad {
		return "", fmt.Errorf("interp: auto must be 0-3")
	}
	s.Cfg.AutoMode = uint8(v)
	return "", nil
}

func clrHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendSDC(ctx, s.Cfg.PrimaryAddr)
}

func dclHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.DeviceClear(ctx)
}

func defaultHandler(s *Session, _ string) (string, error) {
	s.Cfg = config.Default()
	return "", nil
}

func eoiHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.EOIEnabled), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.EOIEnabled = v
	return "", nil
}

func eorHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.EORMode)), nil
	}
	v, bad := notInRange(params, 0, 7)
	if bad {
		return "", fmt.Errorf("interp: eor must be 0-7")
	}
	s.Cfg.EORMode = uint8(v)
	return "", nil
}

func eosHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.EOSMode)), nil
	}
	v, bad := notInRange(params, 0, 3)
	if bad {
		return "", fmt.Errorf("interp: eos must be 0-3")
	}
	s.Cfg.EOSMode = uint8(v)
	return "", nil
}

func eotCharHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.EOTChar)), nil
	}
	v, bad := notInRange(params, 0, 255)
	if bad {
		return "", fmt.Errorf("interp: eot_char must be 0-255")
	}
	s.Cfg.EOTChar = byte(v)
	return "", nil
}

func eotEnableHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.EOTEnabled), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.EOTEnabled = v
	return "", nil
}

func helpHandler(s *Session, _ string) (string, error) {
	var b strings.Builder
	for _, e := range s.Table.entries {
		fmt.Fprintf(&b, "++%s\n", e.token)
	}
	return b.String(), nil
}

func ifcHandler(s *Session, _ string) (string, error) {
	return "", s.Engine.SendIFC()
}

func idHandler(s *Session, _ string) (string, error) {
	return idnHandler(s, "")
}

func idnHandler(s *Session, _ string) (string, error) {
	if s.Cfg.IDNString[0] != 0 {
		n := 0
		for n < len(s.Cfg.IDNString) && s.Cfg.IDNString[n] != 0 {
			n++
		}
		return string(s.Cfg.IDNString[:n]), nil
	}
	return "AR488-Go,gpibridge,1,0", nil
}

func lloHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendLLO(ctx, s.Cfg.PrimaryAddr)
}

func locHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendGTL(ctx, s.Cfg.PrimaryAddr)
}

func lonHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.ListenOnly), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.ListenOnly = v
	return "", nil
}

func macroHandler(s *Session, params string) (string, error) {
	fields, err := shlex.Split(params)
	if err != nil {
		return "", fmt.Errorf("interp: macro args: %w", err)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("interp: macro requires an index 0-9")
	}
	idx, bad := notInRange(fields[0], 0, 9)
	if bad {
		return "", fmt.Errorf("interp: macro index must be 0-9")
	}
	if len(fields) == 1 {
		return s.macros[idx], nil
	}
	s.macros[idx] = strings.Join(fields[1:], " ")
	return "", nil
}

func mlaHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.AddressDevice(ctx, s.Cfg.PrimaryAddr, false)
}

func mtaHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.AddressDevice(ctx, s.Cfg.PrimaryAddr, true)
}

func modeHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.Mode)), nil
	}
	v, bad := notInRange(params, 0, 1)
	if bad {
		return "", fmt.Errorf("interp: mode must be 0 (device) or 1 (controller)")
	}
	newMode := config.Mode(v)
	if newMode == s.Cfg.Mode {
		return "", nil
	}
	s.Cfg.Mode = newMode
	return "", s.switchRole(newMode)
}

func msaHandler(s *Session, params string) (string, error) {
	v, bad := notInRange(params, 0, 30)
	if bad {
		return "", fmt.Errorf("interp: msa requires a secondary address 0-30")
	}
	s.Cfg.SecondaryAddr = uint8(v)
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendMSA(ctx, uint8(v))
}

func ppollHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	value, err := s.Engine.ParallelPoll(ctx)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(int(value)), nil
}

func promHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.promiscuous), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.promiscuous = v
	return "", nil
}

// eorSequence returns the trailing byte sequence that ends a receive
// under mode (0-7), or nil for the two modes with no byte sequence to
// match: 3 (no terminator) and 7 (EOI is the sole terminator).
func eorSequence(mode uint8) []byte {
	switch mode {
	case 0:
		return []byte{0x0D, 0x0A} // CR+LF
	case 1:
		return []byte{0x0D} // CR
	case 2:
		return []byte{0x0A} // LF
	case 4:
		return []byte{0x0A, 0x0D} // LF+CR
	case 5:
		return []byte{0x03} // ETX
	case 6:
		return []byte{0x0D, 0x0A, 0x03} // CR+LF+ETX
	default:
		return nil
	}
}

func readHandler(s *Session, params string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()

	trimmed := strings.TrimSpace(params)
	wantEOI := strings.EqualFold(trimmed, "eoi")

	var endByte byte
	hasEndByte := false
	if trimmed != "" && !wantEOI {
		v, bad := notInRange(trimmed, 0, 255)
		if bad {
			return "", fmt.Errorf("interp: read takes eoi or an end byte 0-255")
		}
		endByte = byte(v)
		hasEndByte = true
	}

	// eor=7 and cfg.eoi interact the same way: either one makes EOI the
	// sole receive terminator, and the configured EOR byte sequence (if
	// any) is not checked.
	eoiOnly := wantEOI || s.Cfg.EOIEnabled || s.Cfg.EORMode == 7
	detectEOI := eoiOnly
	var eorSeq []byte
	if !eoiOnly {
		eorSeq = eorSequence(s.Cfg.EORMode)
	}

	var b strings.Builder
	var tail [3]byte
	tailLen := 0
	for {
		value, eoi, err := s.Engine.ReadByte(ctx, detectEOI)
		if err != nil {
			if b.Len() > 0 {
				break
			}
			return "", err
		}
		b.WriteByte(value)
		if tailLen < len(tail) {
			tail[tailLen] = value
			tailLen++
		} else {
			tail[0], tail[1], tail[2] = tail[1], tail[2], value
		}

		if eoi {
			break
		}
		if hasEndByte && value == endByte {
			break
		}
		if s.Cfg.EOTEnabled && value == s.Cfg.EOTChar {
			break
		}
		if n := len(eorSeq); n > 0 && tailLen >= n && bytes.Equal(tail[tailLen-n:tailLen], eorSeq) {
			break
		}
	}
	return b.String(), nil
}

func readTmoHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.ReadTimeoutMS)), nil
	}
	v, bad := notInRange(params, 1, 32000)
	if bad {
		return "", fmt.Errorf("interp: read_tmo_ms must be 1-32000")
	}
	s.Cfg.ReadTimeoutMS = uint16(v)
	return "", nil
}

func renHandler(s *Session, params string) (string, error) {
	if params == "" {
		return "", nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	return "", s.Engine.SetREN(v)
}

func repeatHandler(s *Session, params string) (string, error) {
	fields, err := shlex.Split(params)
	if err != nil || len(fields) < 2 {
		return "", fmt.Errorf("interp: repeat requires <count> <delay_ms> <command...>")
	}
	count, bad := notInRange(fields[0], 1, 255)
	if bad {
		return "", fmt.Errorf("interp: repeat count must be 1-255")
	}
	delay, bad := notInRange(fields[1], 0, 10000)
	if bad {
		return "", fmt.Errorf("interp: repeat delay must be 0-10000 ms")
	}

	var b strings.Builder
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
		out, err := s.ProcessLine("++" + strings.Join(fields[2:], " "))
		if err != nil {
			return b.String(), err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func rstHandler(s *Session, _ string) (string, error) {
	// There's no watchdog to trip here the way a microcontroller reboot
	// would: resetting the engine's bus state and reloading defaults is
	// the host-process equivalent.
	s.Cfg = config.Default()
	if s.Cfg.Mode == config.ModeController {
		return "", s.Engine.SetControls(core.CINI)
	}
	return "", s.Engine.SetControls(core.DINI)
}

func trgHandler(s *Session, params string) (string, error) {
	addr := s.Cfg.PrimaryAddr
	if params != "" {
		v, bad := notInRange(params, 0, 30)
		if bad {
			return "", fmt.Errorf("interp: trg address must be 0-30")
		}
		addr = uint8(v)
	}
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendGET(ctx, addr)
}

func saveHandler(s *Session, _ string) (string, error) {
	if s.Store == nil {
		return "", nil
	}
	return "", config.Save(s.Store, s.Cfg)
}

func setvstrHandler(s *Session, params string) (string, error) {
	copy(s.Cfg.IDNString[:], []byte(params))
	return "", nil
}

func spollHandler(s *Session, params string) (string, error) {
	addr := s.Cfg.PrimaryAddr
	if params != "" {
		v, bad := notInRange(params, 0, 30)
		if bad {
			return "", fmt.Errorf("interp: spoll address must be 0-30")
		}
		addr = uint8(v)
	}
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	status, err := s.Engine.SerialPoll(ctx, addr)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(int(status)), nil
}

func srqHandler(s *Session, _ string) (string, error) {
	asserted, err := s.Engine.ReadSRQ()
	if err != nil {
		return "", err
	}
	return boolStr(asserted), nil
}

func srqAutoHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.SRQAuto), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.SRQAuto = v
	return "", nil
}

func statusHandler(s *Session, params string) (string, error) {
	if params == "" {
		return strconv.Itoa(int(s.Cfg.StatusByte)), nil
	}
	v, bad := notInRange(params, 0, 255)
	if bad {
		return "", fmt.Errorf("interp: status must be 0-255")
	}
	s.Cfg.StatusByte = byte(v)
	return "", s.Engine.SetStatus(byte(v))
}

func tonHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.TalkOnly), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.TalkOnly = v
	return "", nil
}

func unlHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendUNL(ctx)
}

func untHandler(s *Session, _ string) (string, error) {
	ctx, cancel := s.HandshakeContext()
	defer cancel()
	return "", s.Engine.SendUNT(ctx)
}

func verHandler(s *Session, _ string) (string, error) {
	return "gpibridge, ver 1.0", nil
}

func verboseHandler(s *Session, params string) (string, error) {
	if params == "" {
		return boolStr(s.Cfg.Verbose), nil
	}
	v, err := parseBool(params)
	if err != nil {
		return "", err
	}
	s.Cfg.Verbose = v
	return "", nil
}

func xdiagHandler(s *Session, _ string) (string, error) {
	return fmt.Sprintf("state=%s addr=%d mode=%d", s.Engine.State(), s.Cfg.PrimaryAddr, s.Cfg.Mode), nil
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("interp: expected 0 or 1, got %q", s)
	}
}
