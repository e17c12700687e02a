
package ioformats

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"handbook-scraper/internal/models"
)

// ErrNoCodes is returned when a code list parses but names no subject.
var ErrNoCodes = errors.New("no subject codes")

type codeFormat int

const (
	formatLines codeFormat = iota // one code or {"code": ...} object per line
	formatCSV                     // header row with a "code" column
)

// ReadCodes reads an allow-list of subject codes. .csv files need a "code"
// header column, .ndjson/.jsonl files hold one code or {"code": ...} object
// per line and anything else is sniffed from its first non-blank line.
// Codes are trimmed, uppercased and deduplicated in file order.
func ReadCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var codes []string
	switch sniffCodes(path, br) {
	case formatCSV:
		codes, err = csvCodes(br)
	default:
		codes, err = lineCodes(br)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCodes)
	}
	return codes, nil
}

func sniffCodes(path string, br *bufio.Reader) codeFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV
	case ".ndjson", ".jsonl":
		return formatLines
	}
	head, _ := br.Peek(br.Size())
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			return formatLines
		}
		if strings.Contains(line, ",") || strings.EqualFold(line, "code") {
			return formatCSV
		}
		return formatLines
	}
	return formatLines
}

type codeSet struct {
	seen  map[string]bool
	codes []string
}

func (s *codeSet) add(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || s.seen[code] {
		return
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[code] = true
	s.codes = append(s.codes, code)
}

func csvCodes(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "code") {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, errors.New(`csv header has no "code" column`)
	}

	var set codeSet
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return set.codes, nil
		}
		if err != nil {
			return nil, err
		}
		if col < len(rec) {
			set.add(rec[col])
		}
	}
}

func lineCodes(r io.Reader) ([]string, error) {
	var set codeSet
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			set.add(line)
			continue
		}
		var obj struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if strings.TrimSpace(obj.Code) == "" {
			return nil, fmt.Errorf("line %d: object has no code", n)
		}
		set.add(obj.Code)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return set.codes, nil
}

// WriteNDJSON writes one subject record per line.
func WriteNDJSON(w io.Writer, items []models.SubjectRecord) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes a flat summary of each record.
func WriteCSV(w io.Writer, items []models.SubjectRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"code", "name", "credit_points", "availability", "tables", "instructor_emails"}); err != nil {
		return err
	}
	for _, it := range items {
		points := ""
		if it.CreditPoints != nil {
			points = strconv.FormatFloat(*it.CreditPoints, 'f', -1, 64)
		}
		err := cw.Write([]string{
			it.Code,
			it.Name,
			points,
			strings.ReplaceAll(it.Availability, "\n", "; "),
			strconv.Itoa(len(it.Assessment.Tables)),
			strings.Join(it.InstructorEmails, " "),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
