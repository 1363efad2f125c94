package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// Word 97-2003 binary layout: the FIB at the start of the WordDocument stream
// locates the piece table (CLX) inside the 0Table or 1Table stream. Each
// piece maps a run of character positions to cp1252 or UTF-16LE bytes of the
// WordDocument stream.
const (
	docIdent          = 0xA5EC
	docFlagEncrypted  = 0x0100
	docFlagWhichTable = 0x0200
	docFibBaseSize    = 32
	docClxPairIndex   = 33
	clxPrc            = 0x01
	clxPcdt           = 0x02
	pcdSize           = 8
	pcdCompressed     = 1 << 30
)

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type docFIB struct {
	tableStream string
	ccpText     uint32
	fcClx       uint32
	lcbClx      uint32
}

// parseDOC extracts the main document text of a legacy .doc file. Field
// codes are dropped and their results kept; paragraph, line and page breaks
// become newlines and table cell marks become tabs.
func parseDOC(_ context.Context, raw []byte, base map[string]string) ([]domain.Document, error) {
	streams, err := readCompoundStreams(raw, "WordDocument", "0Table", "1Table")
	if err != nil {
		return nil, err
	}
	word, ok := streams["WordDocument"]
	if !ok {
		return nil, errors.New("compound file has no WordDocument stream")
	}
	fib, err := readFIB(word)
	if err != nil {
		return nil, err
	}
	table, ok := streams[fib.tableStream]
	if !ok {
		return nil, fmt.Errorf("compound file has no %s stream", fib.tableStream)
	}
	text, err := pieceText(word, table, fib)
	if err != nil {
		return nil, err
	}
	return []domain.Document{newDocument(strings.TrimRight(text, "\n"), base)}, nil
}

func readCompoundStreams(raw []byte, names ...string) (map[string][]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open compound file: %w", err)
	}
	out := make(map[string][]byte, len(names))
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if len(entry.Path) > 0 || !slices.Contains(names, entry.Name) {
			continue
		}
		data, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("read %s stream: %w", entry.Name, err)
		}
		out[entry.Name] = data
	}
	return out, nil
}

func readFIB(word []byte) (docFIB, error) {
	short := errors.New("word document stream is truncated")
	if len(word) < docFibBaseSize+2 {
		return docFIB{}, short
	}
	if binary.LittleEndian.Uint16(word) != docIdent {
		return docFIB{}, errors.New("not a word document")
	}
	flags := binary.LittleEndian.Uint16(word[0x0A:])
	if flags&docFlagEncrypted != 0 {
		return docFIB{}, errors.New("encrypted word document")
	}

	pos := docFibBaseSize
	csw := int(binary.LittleEndian.Uint16(word[pos:]))
	pos += 2 + csw*2
	if pos+2 > len(word) {
		return docFIB{}, short
	}
	cslw := int(binary.LittleEndian.Uint16(word[pos:]))
	pos += 2
	rgLw := pos
	pos += cslw * 4
	if cslw < 4 || pos+2 > len(word) {
		return docFIB{}, short
	}
	cbRgFcLcb := int(binary.LittleEndian.Uint16(word[pos:]))
	pos += 2
	if cbRgFcLcb <= docClxPairIndex || pos+(docClxPairIndex+1)*8 > len(word) {
		return docFIB{}, errors.New("word document has no piece table")
	}
	clx := pos + docClxPairIndex*8

	fib := docFIB{
		tableStream: "0Table",
		ccpText:     binary.LittleEndian.Uint32(word[rgLw+12:]),
		fcClx:       binary.LittleEndian.Uint32(word[clx:]),
		lcbClx:      binary.LittleEndian.Uint32(word[clx+4:]),
	}
	if flags&docFlagWhichTable != 0 {
		fib.tableStream = "1Table"
	}
	return fib, nil
}

func pieceText(word, table []byte, fib docFIB) (string, error) {
	end := uint64(fib.fcClx) + uint64(fib.lcbClx)
	if fib.lcbClx == 0 || end > uint64(len(table)) {
		return "", errors.New("piece table out of range")
	}
	clx := table[fib.fcClx:end]
	malformed := errors.New("malformed piece table")
	for len(clx) > 0 {
		switch clx[0] {
		case clxPrc:
			if len(clx) < 3 {
				return "", malformed
			}
			n := int(int16(binary.LittleEndian.Uint16(clx[1:])))
			if n < 0 || 3+n > len(clx) {
				return "", malformed
			}
			clx = clx[3+n:]
		case clxPcdt:
			if len(clx) < 5 {
				return "", malformed
			}
			lcb := uint64(binary.LittleEndian.Uint32(clx[1:]))
			if 5+lcb > uint64(len(clx)) {
				return "", malformed
			}
			return decodePieces(word, clx[5:5+lcb], fib.ccpText)
		default:
			return "", fmt.Errorf("unexpected piece table entry 0x%02x", clx[0])
		}
	}
	return "", errors.New("piece table has no piece descriptors")
}

// decodePieces walks PlcPcd: n+1 character positions followed by n piece
// descriptors. Only positions below limit belong to the main document.
func decodePieces(word, plc []byte, limit uint32) (string, error) {
	n := (len(plc) - 4) / (4 + pcdSize)
	if n <= 0 || 4*(n+1)+n*pcdSize != len(plc) {
		return "", errors.New("malformed piece descriptors")
	}
	var w docWriter
	for i := 0; i < n; i++ {
		cpStart := binary.LittleEndian.Uint32(plc[i*4:])
		cpEnd := min(binary.LittleEndian.Uint32(plc[(i+1)*4:]), limit)
		if cpStart >= cpEnd {
			continue
		}
		count := uint64(cpEnd - cpStart)
		pcd := plc[4*(n+1)+i*pcdSize:]
		fc := binary.LittleEndian.Uint32(pcd[2:])

		if fc&pcdCompressed != 0 {
			start := uint64(fc&^pcdCompressed) / 2
			if start+count > uint64(len(word)) {
				return "", fmt.Errorf("piece %d out of range", i)
			}
			for _, b := range word[start : start+count] {
				w.add(charmap.Windows1252.DecodeByte(b))
			}
			continue
		}
		start := uint64(fc &^ pcdCompressed)
		if start+2*count > uint64(len(word)) {
			return "", fmt.Errorf("piece %d out of range", i)
		}
		units := make([]uint16, count)
		for j := range units {
			units[j] = binary.LittleEndian.Uint16(word[start+uint64(j)*2:])
		}
		for _, r := range utf16.Decode(units) {
			w.add(r)
		}
	}
	return w.sb.String(), nil
}

type docWriter struct {
	sb strings.Builder
	// one entry per open field; true while its code part is being read
	fields []bool
}

func (w *docWriter) add(r rune) {
	switch r {
	case 0x13:
		w.fields = append(w.fields, true)
		return
	case 0x14:
		if n := len(w.fields); n > 0 {
			w.fields[n-1] = false
		}
		return
	case 0x15:
		if n := len(w.fields); n > 0 {
			w.fields = w.fields[:n-1]
		}
		return
	}
	if slices.Contains(w.fields, true) {
		return
	}
	switch r {
	case '\r', 0x0B, 0x0C:
		w.sb.WriteByte('\n')
	case '\t', 0x07:
		w.sb.WriteByte('\t')
	case 0x1E:
		w.sb.WriteByte('-')
	case 0xA0:
		w.sb.WriteByte(' ')
	default:
		if r >= 0x20 {
			w.sb.WriteRune(r)
		}
	}
}
