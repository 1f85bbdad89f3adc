package ingest

import "testing"

func TestJobReasonSplitsStatus(t *testing.T) {
	j := Job{Status: FailedStatus("extraction", "corrupt_source")}
	kind, detail := j.Reason()
	if kind != JobStatusFailed {
		t.Fatalf("expected kind %q, got %q", JobStatusFailed, kind)
	}
	if detail != "extraction:corrupt_source" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestJobReasonNoSeparator(t *testing.T) {
	j := Job{Status: JobStatusCompleted}
	kind, detail := j.Reason()
	if kind != JobStatusCompleted || detail != "" {
		t.Fatalf("expected (%q, \"\"), got (%q, %q)", JobStatusCompleted, kind, detail)
	}
}

func TestJobIsTerminal(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{JobStatusQueued, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusCancelled, true},
		{FailedStatus("embedding", "rate_limited"), true},
	}
	for _, c := range cases {
		if got := (Job{Status: c.status}).IsTerminal(); got != c.want {
			t.Errorf("status %q: IsTerminal() = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestFileStatusUploadedWhenNoJobs(t *testing.T) {
	if got := FileStatus(nil); got != "uploaded" {
		t.Fatalf("expected uploaded, got %q", got)
	}
}

func TestFileStatusProcessingWhenAnyJobActive(t *testing.T) {
	jobs := []Job{
		{Status: JobStatusCompleted},
		{Status: JobStatusProcessing},
	}
	if got := FileStatus(jobs); got != "processing" {
		t.Fatalf("expected processing, got %q", got)
	}
}

func TestFileStatusReflectsMostRecentTerminalJob(t *testing.T) {
	older := Job{Status: JobStatusCompleted, CreatedAt: mustTime(1)}
	newer := Job{Status: FailedStatus("embedding", "server_error"), CreatedAt: mustTime(2)}
	jobs := []Job{older, newer}

	if got := FileStatus(jobs); got != newer.Status {
		t.Fatalf("expected %q, got %q", newer.Status, got)
	}
}

func TestFileStatusProcessedWhenLatestCompleted(t *testing.T) {
	jobs := []Job{
		{Status: FailedStatus("extraction", "corrupt_source"), CreatedAt: mustTime(1)},
		{Status: JobStatusCompleted, CreatedAt: mustTime(2)},
	}
	if got := FileStatus(jobs); got != "processed" {
		t.Fatalf("expected processed, got %q", got)
	}
}

func TestJobKindSourceKind(t *testing.T) {
	cases := map[JobKind]SourceKind{
		JobKindFileProcessing:    SourceKindUpload,
		JobKindURLExtraction:     SourceKindURL,
		JobKindYouTubeExtraction: SourceKindYouTube,
	}
	for kind, want := range cases {
		if got := kind.SourceKind(); got != want {
			t.Errorf("%s.SourceKind() = %s, want %s", kind, got, want)
		}
	}
}
