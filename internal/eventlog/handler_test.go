package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaybot/dashboard/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeArchiver struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeArchiver) UploadArchive(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.key = key
	f.contentType = contentType
	f.body, _ = io.ReadAll(body)
	return "s3://bucket/" + key, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/api/logs", h.List)
	r.GET("/api/logs/export", h.Export)
	r.POST("/api/logs/archive", h.Archive)
	return r
}

func seededLog() *Log {
	l := New(100, nil)
	l.SetClock(func() time.Time { return time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC) })
	l.Info("started")
	l.Error("boom")
	l.Info("recovered")
	return l
}

func TestListHandler(t *testing.T) {
	r := newTestRouter(NewHandler(seededLog(), nil, nil))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantMsgs   []string
	}{
		{"all", "", http.StatusOK, []string{"started", "boom", "recovered"}},
		{"level filter", "?level=info", http.StatusOK, []string{"started", "recovered"}},
		{"level all", "?level=all&limit=1", http.StatusOK, []string{"recovered"}},
		{"bad level", "?level=debug", http.StatusBadRequest, nil},
		{"bad limit", "?limit=-3", http.StatusBadRequest, nil},
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/logs"+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got []models.LogRecord
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.wantMsgs) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.wantMsgs))
			}
			for i, rec := range got {
				if rec.Message != tt.wantMsgs[i] {
					t.Errorf("record %d = %q, want %q", i, rec.Message, tt.wantMsgs[i])
				}
			}
		})
	}
}

func TestExportHandler(t *testing.T) {
	r := newTestRouter(NewHandler(seededLog(), nil, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/logs/export", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "relay-logs-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	want := "[2024-03-01 09:05:07] INFO started\n[2024-03-01 09:05:07] ERROR boom\n[2024-03-01 09:05:07] INFO recovered\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestArchiveHandler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		r := newTestRouter(NewHandler(seededLog(), nil, nil))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/logs/archive", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("uploads ndjson", func(t *testing.T) {
		l := seededLog()
		arch := &fakeArchiver{}
		r := newTestRouter(NewHandler(l, arch, nil))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/logs/archive", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if arch.contentType != "application/x-ndjson" || !strings.HasPrefix(arch.key, "logs/") {
			t.Errorf("upload key=%q type=%q", arch.key, arch.contentType)
		}
		var lines int
		sc := bufio.NewScanner(bytes.NewReader(arch.body))
		for sc.Scan() {
			var rec models.LogRecord
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				t.Fatalf("line %d: %v", lines, err)
			}
			lines++
		}
		if lines != 3 {
			t.Errorf("archived %d lines, want 3", lines)
		}
		last := l.All()[l.Len()-1]
		if !strings.HasPrefix(last.Message, "Log archive uploaded") {
			t.Errorf("last record = %q", last.Message)
		}
	})

	t.Run("upload failure", func(t *testing.T) {
		l := seededLog()
		r := newTestRouter(NewHandler(l, &fakeArchiver{err: errors.New("denied")}, nil))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/logs/archive", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
		last := l.All()[l.Len()-1]
		if last.Level != models.LevelError {
			t.Errorf("last record level = %s, want error", last.Level)
		}
	})
}

func TestArchiveKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 42, time.UTC)
	if got, want := ArchiveKey(ts), "logs/2024/03/01/1709283600000000042.ndjson"; got != want {
		t.Errorf("ArchiveKey = %q, want %q", got, want)
	}
}
