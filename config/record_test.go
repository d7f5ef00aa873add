package config

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := Record{
		Mode:          ModeController,
		PrimaryAddr:   9,
		SecondaryAddr: 0,
		AutoMode:      2,
		EOIEnabled:    true,
		EOSMode:       1,
		EORMode:       0,
		EOTEnabled:    true,
		EOTChar:       '\r',
		ReadTimeoutMS: 2000,
		Verbose:       true,
		SRQAuto:       false,
		ListenOnly:    false,
		TalkOnly:      false,
		StatusByte:    0x40,
	}
	copy(in.IDNString[:], "AR488 GPIB controller")

	blob := in.Marshal()
	out, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out != in {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", out, in)
	}
}

func TestUnmarshalRejectsBadLength(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	if err == nil {
		t.Error("expected error for short blob")
	}
}

func TestUnmarshalRejectsBadCRC(t *testing.T) {
	blob := Default().Marshal()
	blob[0] ^= 0xFF // corrupt a data byte without touching the CRC

	_, err := Unmarshal(blob)
	if err == nil {
		t.Error("expected CRC mismatch error")
	}
}

func TestDefault(t *testing.T) {
	d := Default()
	if d.Mode != ModeDevice {
		t.Errorf("Default mode = %v, want ModeDevice", d.Mode)
	}
	if !d.EOIEnabled {
		t.Error("Default should have EOI enabled")
	}
	if d.ReadTimeoutMS != 1200 {
		t.Errorf("Default ReadTimeoutMS = %d, want 1200", d.ReadTimeoutMS)
	}
}
