package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeBytes writes a length-prefixed byte slice: [uint32 length BE] [bytes].
// A nil slice is written as a zero-length (not "absent") value; callers
// that need an optional field encode presence separately.
func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return fmt.Errorf("writing length prefix: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing bytes: %w", err)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	if _, err := w.Write([]byte{v}); err != nil {
		return fmt.Errorf("writing bool: %w", err)
	}
	return nil
}

// WriteLoadRequest encodes a LoadRequest frame.
// Format: [Magic "LOAD" 4B] [Version 1B] [RequestID uint64 8B]
// [ResponseTopic bytes] [CacheName string] [Receiver bytes]
// [EntryCount uint32] entries... [NeedAck 1B] [SkipStore 1B]
// [KeepBinary 1B] [HasDeployment 1B] (deployment fields if present)
// [TopologyMajor int64 8B] [TopologyMinor int32 4B] [StripeHint int32 4B]
func WriteLoadRequest(w io.Writer, req *LoadRequest) error {
	if _, err := w.Write(MagicLoadRequest[:]); err != nil {
		return fmt.Errorf("writing load request magic: %w", err)
	}
	if _, err := w.Write([]byte{ProtocolVersion}); err != nil {
		return fmt.Errorf("writing load request version: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, req.RequestID); err != nil {
		return fmt.Errorf("writing request id: %w", err)
	}
	if err := writeBytes(w, req.ResponseTopic); err != nil {
		return fmt.Errorf("writing response topic: %w", err)
	}
	if err := writeString(w, req.CacheName); err != nil {
		return fmt.Errorf("writing cache name: %w", err)
	}
	if err := writeBytes(w, req.Receiver); err != nil {
		return fmt.Errorf("writing receiver: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(req.Entries))); err != nil {
		return fmt.Errorf("writing entry count: %w", err)
	}
	for i, e := range req.Entries {
		if err := writeBytes(w, e.Key); err != nil {
			return fmt.Errorf("writing entry %d key: %w", i, err)
		}
		if err := writeBool(w, e.Value != nil); err != nil {
			return fmt.Errorf("writing entry %d value presence: %w", i, err)
		}
		if e.Value != nil {
			if err := writeBytes(w, e.Value); err != nil {
				return fmt.Errorf("writing entry %d value: %w", i, err)
			}
		}
	}

	if err := writeBool(w, req.NeedAck); err != nil {
		return fmt.Errorf("writing need_ack: %w", err)
	}
	if err := writeBool(w, req.SkipStore); err != nil {
		return fmt.Errorf("writing skip_store: %w", err)
	}
	if err := writeBool(w, req.KeepBinary); err != nil {
		return fmt.Errorf("writing keep_binary: %w", err)
	}
	if err := writeBool(w, req.HasDeployment); err != nil {
		return fmt.Errorf("writing deployment presence: %w", err)
	}
	if req.HasDeployment {
		if err := writeDeployment(w, req.Deployment); err != nil {
			return fmt.Errorf("writing deployment: %w", err)
		}
	}

	if err := binary.Write(w, binary.BigEndian, req.Topology.Major); err != nil {
		return fmt.Errorf("writing topology major: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, req.Topology.Minor); err != nil {
		return fmt.Errorf("writing topology minor: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, req.StripeHint); err != nil {
		return fmt.Errorf("writing stripe hint: %w", err)
	}
	return nil
}

func writeDeployment(w io.Writer, d Deployment) error {
	if err := writeString(w, d.Mode); err != nil {
		return err
	}
	if err := writeString(w, d.ClassName); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, d.UserVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(d.Participants))); err != nil {
		return err
	}
	for _, p := range d.Participants {
		if err := writeString(w, p); err != nil {
			return err
		}
	}
	return writeString(w, d.ClassLoaderID)
}

// WriteLoadResponse encodes a LoadResponse frame.
// Format: [Magic "LRSP" 4B] [RequestID uint64 8B] [HasError 1B]
// [ErrorBlob bytes (if HasError)]
func WriteLoadResponse(w io.Writer, resp *LoadResponse) error {
	if _, err := w.Write(MagicLoadResponse[:]); err != nil {
		return fmt.Errorf("writing load response magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, resp.RequestID); err != nil {
		return fmt.Errorf("writing response request id: %w", err)
	}
	if err := writeBool(w, resp.HasError); err != nil {
		return fmt.Errorf("writing response has_error: %w", err)
	}
	if resp.HasError {
		if err := writeBytes(w, resp.ErrorBlob); err != nil {
			return fmt.Errorf("writing response error blob: %w", err)
		}
	}
	return nil
}
