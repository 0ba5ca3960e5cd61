package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reading length prefix: %w", ErrTruncatedFrame)
		}
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("reading bytes: %w", ErrPayloadTooLarge)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reading bytes: %w", ErrTruncatedFrame)
		}
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return buf, nil
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, fmt.Errorf("reading bool: %w", ErrTruncatedFrame)
		}
		return false, fmt.Errorf("reading bool: %w", err)
	}
	return b[0] != 0, nil
}

func readMagic(r io.Reader, want [4]byte) error {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("reading magic: %w", ErrTruncatedFrame)
		}
		return fmt.Errorf("reading magic: %w", err)
	}
	if got != want {
		return ErrInvalidMagic
	}
	return nil
}

// ReadLoadRequest decodes a LoadRequest frame written by WriteLoadRequest.
func ReadLoadRequest(r io.Reader) (*LoadRequest, error) {
	if err := readMagic(r, MagicLoadRequest); err != nil {
		return nil, err
	}
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("reading load request version: %w", ErrTruncatedFrame)
	}
	if version[0] != ProtocolVersion {
		return nil, ErrUnsupportedVer
	}

	req := &LoadRequest{}
	if err := binary.Read(r, binary.BigEndian, &req.RequestID); err != nil {
		return nil, fmt.Errorf("reading request id: %w", ErrTruncatedFrame)
	}

	var err error
	if req.ResponseTopic, err = readBytes(r); err != nil {
		return nil, fmt.Errorf("reading response topic: %w", err)
	}
	if req.CacheName, err = readString(r); err != nil {
		return nil, fmt.Errorf("reading cache name: %w", err)
	}
	if req.Receiver, err = readBytes(r); err != nil {
		return nil, fmt.Errorf("reading receiver: %w", err)
	}

	var entryCount uint32
	if err := binary.Read(r, binary.BigEndian, &entryCount); err != nil {
		return nil, fmt.Errorf("reading entry count: %w", ErrTruncatedFrame)
	}
	req.Entries = make([]WireEntry, entryCount)
	for i := range req.Entries {
		key, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("reading entry %d key: %w", i, err)
		}
		hasValue, err := readBool(r)
		if err != nil {
			return nil, fmt.Errorf("reading entry %d value presence: %w", i, err)
		}
		var value []byte
		if hasValue {
			if value, err = readBytes(r); err != nil {
				return nil, fmt.Errorf("reading entry %d value: %w", i, err)
			}
		}
		req.Entries[i] = WireEntry{Key: key, Value: value}
	}

	if req.NeedAck, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading need_ack: %w", err)
	}
	if req.SkipStore, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading skip_store: %w", err)
	}
	if req.KeepBinary, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading keep_binary: %w", err)
	}
	if req.HasDeployment, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading deployment presence: %w", err)
	}
	if req.HasDeployment {
		if req.Deployment, err = readDeployment(r); err != nil {
			return nil, fmt.Errorf("reading deployment: %w", err)
		}
	}

	if err := binary.Read(r, binary.BigEndian, &req.Topology.Major); err != nil {
		return nil, fmt.Errorf("reading topology major: %w", ErrTruncatedFrame)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Topology.Minor); err != nil {
		return nil, fmt.Errorf("reading topology minor: %w", ErrTruncatedFrame)
	}
	if err := binary.Read(r, binary.BigEndian, &req.StripeHint); err != nil {
		return nil, fmt.Errorf("reading stripe hint: %w", ErrTruncatedFrame)
	}

	return req, nil
}

func readDeployment(r io.Reader) (Deployment, error) {
	var d Deployment
	var err error
	if d.Mode, err = readString(r); err != nil {
		return d, err
	}
	if d.ClassName, err = readString(r); err != nil {
		return d, err
	}
	if err := binary.Read(r, binary.BigEndian, &d.UserVersion); err != nil {
		return d, fmt.Errorf("reading user version: %w", ErrTruncatedFrame)
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return d, fmt.Errorf("reading participant count: %w", ErrTruncatedFrame)
	}
	d.Participants = make([]string, count)
	for i := range d.Participants {
		if d.Participants[i], err = readString(r); err != nil {
			return d, err
		}
	}
	if d.ClassLoaderID, err = readString(r); err != nil {
		return d, err
	}
	return d, nil
}

// ReadLoadResponse decodes a LoadResponse frame written by WriteLoadResponse.
func ReadLoadResponse(r io.Reader) (*LoadResponse, error) {
	if err := readMagic(r, MagicLoadResponse); err != nil {
		return nil, err
	}
	resp := &LoadResponse{}
	if err := binary.Read(r, binary.BigEndian, &resp.RequestID); err != nil {
		return nil, fmt.Errorf("reading response request id: %w", ErrTruncatedFrame)
	}
	var err error
	if resp.HasError, err = readBool(r); err != nil {
		return nil, fmt.Errorf("reading response has_error: %w", err)
	}
	if resp.HasError {
		if resp.ErrorBlob, err = readBytes(r); err != nil {
			return nil, fmt.Errorf("reading response error blob: %w", err)
		}
	}
	return resp, nil
}
