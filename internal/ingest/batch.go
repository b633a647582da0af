package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxLineBytes bounds a single NDJSON row
const maxLineBytes = 1 << 20

// Summary counts the outcomes of a batch
type Summary struct {
	TenantID  string `json:"tenantId"`
	Source    string `json:"source"`
	Rows      int    `json:"rows"`
	Skipped   int    `json:"skipped"`
	Accepted  int    `json:"accepted"`
	Duplicate int    `json:"duplicate"`
	Invalid   int    `json:"invalid"`
	Unbound   int    `json:"unbound"`
	Failed    int    `json:"failed"`
	Cursor    int64  `json:"cursor"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeAccepted:
		s.Accepted++
	case OutcomeDuplicate:
		s.Duplicate++
	case OutcomeInvalid:
		s.Invalid++
	case OutcomeUnbound:
		s.Unbound++
	default:
		s.Failed++
	}
}

// ProcessBatch replays an NDJSON stream for one tenant. Each line's
// 1-based number is its row index and idempotency sequence under source.
// Rows at or below the stored cursor are skipped and the cursor advances
// after every row, so an interrupted replay resumes where it stopped. The
// cursor stops advancing at the first failed row so the next run retries
// it; rows after it are still processed and come back as duplicates.
// cursors may be nil.
func (p *Pipeline) ProcessBatch(ctx context.Context, tenantID, source string, r io.Reader, cursors CursorStore) (*Summary, error) {
	summary := &Summary{TenantID: tenantID, Source: source}

	var resumeAfter int64
	if cursors != nil {
		var err error
		if resumeAfter, err = cursors.Load(ctx, tenantID, source); err != nil {
			return summary, fmt.Errorf("failed to load replay cursor: %w", err)
		}
		summary.Cursor = resumeAfter
		if resumeAfter > 0 {
			p.logger.Info("Resuming replay", "tenant", tenantID, "source", source, "after_row", resumeAfter)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var line int64
	held := false
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if line <= resumeAfter {
			summary.Skipped++
			continue
		}

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) > 0 {
			summary.Rows++
			res := p.Process(ctx, Input{
				TenantID: tenantID,
				Raw:      append([]byte(nil), raw...),
				Source:   source,
				Sequence: line,
				RowIndex: line,
			})
			summary.add(res.Outcome)

			if res.Outcome == OutcomeFailed && !held {
				held = true
				p.logger.Warn("Replay cursor held before failed row",
					"tenant", tenantID, "source", source, "row", line, "error", res.Err)
			}
		}
		if held {
			continue
		}

		if cursors != nil {
			if err := cursors.Save(ctx, tenantID, source, line); err != nil {
				return summary, fmt.Errorf("failed to save replay cursor at row %d: %w", line, err)
			}
		}
		summary.Cursor = line
	}

	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("failed to read batch at row %d: %w", line+1, err)
	}

	p.logger.Info("Batch processed",
		"tenant", tenantID,
		"source", source,
		"rows", summary.Rows,
		"skipped", summary.Skipped,
		"accepted", summary.Accepted,
		"duplicate", summary.Duplicate,
		"invalid", summary.Invalid,
		"unbound", summary.Unbound,
		"failed", summary.Failed)

	return summary, nil
}
