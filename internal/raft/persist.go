package raft

import (
	"encoding/binary"
	"fmt"
)

// persist writes currentTerm, votedFor and the full log to disk,
// fsynced before returning, matching spec §6's "Persisted state
// layout" and generalising the teacher's fixed-width uint32 encoding
// to variable-length string node ids and uint64 term/index.
//
// Layout:
//
//	[0..8)    currentTerm   (uint64)
//	[8..16)   votedForLen   (uint64)
//	[16..)    votedFor      (votedForLen bytes)
//	          logLength     (uint64)
//	          entries, each:
//	            term (uint64) index (uint64) cmdLen (uint64) command (cmdLen bytes)
func (n *Node) persist() error {
	if _, err := n.fd.Seek(0, 0); err != nil {
		return err
	}
	if err := n.fd.Truncate(0); err != nil {
		return err
	}

	buf := make([]byte, 0, 64+len(n.persistentState.log)*32)
	buf = appendUint64(buf, n.persistentState.currentTerm)
	buf = appendUint64(buf, uint64(len(n.persistentState.votedFor)))
	buf = append(buf, n.persistentState.votedFor...)
	buf = appendUint64(buf, uint64(len(n.persistentState.log)))

	for _, e := range n.persistentState.log {
		buf = appendUint64(buf, e.Term)
		buf = appendUint64(buf, e.Index)
		buf = appendUint64(buf, uint64(len(e.Command)))
		buf = append(buf, e.Command...)
	}

	if _, err := n.fd.Write(buf); err != nil {
		return fmt.Errorf("cannot write persistent state: %w", err)
	}

	if err := n.fd.Sync(); err != nil {
		return fmt.Errorf("cannot sync persistent state: %w", err)
	}

	return nil
}

func (n *Node) restore() error {
	if _, err := n.fd.Seek(0, 0); err != nil {
		return err
	}

	r := &byteReader{}
	var err error
	r.buf, err = readAll(n.fd)
	if err != nil {
		return err
	}

	currentTerm, err := r.readUint64()
	if err != nil {
		return err
	}
	votedForLen, err := r.readUint64()
	if err != nil {
		return err
	}
	votedFor, err := r.readBytes(votedForLen)
	if err != nil {
		return err
	}
	logLen, err := r.readUint64()
	if err != nil {
		return err
	}

	entries := make([]LogEntry, 0, logLen)
	for i := uint64(0); i < logLen; i++ {
		term, err := r.readUint64()
		if err != nil {
			return err
		}
		index, err := r.readUint64()
		if err != nil {
			return err
		}
		cmdLen, err := r.readUint64()
		if err != nil {
			return err
		}
		cmd, err := r.readBytes(cmdLen)
		if err != nil {
			return err
		}
		entries = append(entries, LogEntry{Term: term, Index: index, Command: cmd})
	}

	n.persistentState.currentTerm = currentTerm
	n.persistentState.votedFor = string(votedFor)
	n.persistentState.log = entries
	return nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readUint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		if r.pos == len(r.buf) {
			return 0, errEOF
		}
		return 0, fmt.Errorf("truncated persistent state")
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readBytes(n uint64) ([]byte, error) {
	if uint64(r.pos)+n > uint64(len(r.buf)) {
		return nil, fmt.Errorf("truncated persistent state")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

var errEOF = fmt.Errorf("empty persistent state")

func readAll(f interface{ Read([]byte) (int, error) }) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}
