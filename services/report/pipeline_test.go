// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModeioReport/services/llm"
	"github.com/AleutianAI/ModeioReport/services/report/observability"
	"github.com/AleutianAI/ModeioReport/services/report/sensitivity"
)

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_ScopedSuccess(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &scriptedStreamer{fragments: []string{"Risk", " level: ", "medium"}}
	p := NewPipeline(cfg, streamer)

	var c collector
	final, err := p.Run(context.Background(), Request{
		Message: "Review cross-border transfer",
		Scopes:  []string{"GDPR"},
	}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 4, "three fragments plus the terminal outcome")
	header := "--- Regulations under review: GDPR ---\n\n"
	assert.Equal(t, header+"Risk", c.outcomes[0].Text)
	assert.Equal(t, "Risk", c.outcomes[0].Fragment)
	assert.Equal(t, header+"Risk level: ", c.outcomes[1].Text)
	assert.Equal(t, header+"Risk level: medium", c.outcomes[2].Text)
	for _, o := range c.outcomes[:3] {
		assert.False(t, o.Terminal)
		assert.Empty(t, o.ArtifactPath)
	}

	assert.Equal(t, final, c.last())
	assert.True(t, final.Terminal)
	assert.NoError(t, final.Err)
	assert.True(t, strings.HasPrefix(final.Text, header))
	assert.True(t, strings.HasSuffix(final.Text, "Risk level: medium"))
	assert.Len(t, final.Digest, 64)

	require.NotEmpty(t, final.ArtifactPath)
	data, err := os.ReadFile(final.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, final.Text, string(data))
	assert.Equal(t, cfg.ArtifactDir, filepath.Dir(final.ArtifactPath))

	msgs := streamer.lastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, cfg.SystemPrompt, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "**GDPR**")
	assert.True(t, strings.HasSuffix(msgs[1].Content, "Review cross-border transfer"))
}

func TestRun_ReadFailureEmitsSingleOutcome(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &scriptedStreamer{fragments: []string{"never"}}
	p := NewPipeline(cfg, streamer)

	var c collector
	final, err := p.Run(context.Background(), Request{
		Message:     "m",
		Attachments: []Attachment{TextAttachment("ok.txt", "fine"), failingAttachment("contract.txt")},
	}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 1)
	assert.True(t, final.Terminal)
	assert.Empty(t, final.ArtifactPath)
	assert.Contains(t, final.Text, "contract.txt")
	assert.True(t, strings.HasPrefix(final.Text, cfg.Labels.ReadFailure))

	var readErr *ReadFailure
	require.True(t, errors.As(final.Err, &readErr))
	assert.Equal(t, 0, streamer.calls(), "completion service never contacted")
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_MidStreamFailureKeepsPartialText(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &scriptedStreamer{
		fragments: []string{"Partial"},
		failAfter: errors.New("connection reset by peer"),
	}
	p := NewPipeline(cfg, streamer)

	var c collector
	final, err := p.Run(context.Background(), Request{Message: "m"}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 2)
	// The surfaced partial text is the whole buffer, so it still opens with
	// the header line and "Partial" follows it directly.
	header := ReportHeader(cfg.Labels, nil)
	require.True(t, strings.HasPrefix(final.Text, header), final.Text)
	assert.True(t, strings.HasPrefix(final.Text[len(header):], "Partial"), final.Text)
	assert.Equal(t, c.outcomes[0].Text, final.Text[:len(c.outcomes[0].Text)])
	assert.Contains(t, final.Text, cfg.Labels.StreamInterrupted)
	assert.Contains(t, final.Text, "connection reset by peer")
	assert.Empty(t, final.ArtifactPath)
	assert.Empty(t, final.Digest)

	var serviceErr *ServiceFailure
	require.True(t, errors.As(final.Err, &serviceErr))
	assert.True(t, serviceErr.MidStream())
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_PreStreamServiceFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	p := NewPipeline(cfg, &scriptedStreamer{preErr: errors.New("status code: 401, Incorrect API key")})

	var c collector
	final, err := p.Run(context.Background(), Request{Message: "m", Scopes: []string{"HIPAA"}}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 1)
	assert.Equal(t, cfg.Labels.ServiceFailure+" status code: 401, Incorrect API key", final.Text)
	assert.NotContains(t, final.Text, "HIPAA", "no partial content or header")
	assert.Empty(t, final.ArtifactPath)

	var serviceErr *ServiceFailure
	require.True(t, errors.As(final.Err, &serviceErr))
	assert.False(t, serviceErr.MidStream())
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_PersistFailureKeepsFullText(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.ArtifactDir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	cfg.ArtifactDir = filepath.Join(blocker, "reports")

	p := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"All ", "good"}})

	var c collector
	final, err := p.Run(context.Background(), Request{Message: "m"}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 3)
	complete := ReportHeader(cfg.Labels, nil) + "All good"
	assert.True(t, strings.HasPrefix(final.Text, complete+"\n\n"+cfg.Labels.PersistFailure))
	assert.Empty(t, final.ArtifactPath)
	assert.Len(t, final.Digest, 64, "digest covers the completed report")

	var persistErr *PersistFailure
	require.True(t, errors.As(final.Err, &persistErr))
}

func TestRun_UnspecifiedScopeHeader(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &scriptedStreamer{fragments: []string{"ok"}}
	p := NewPipeline(cfg, streamer)

	var c collector
	final, err := p.Run(context.Background(), Request{Message: "plain question"}, c.emit)
	require.NoError(t, err)

	firstLine := strings.SplitN(final.Text, "\n", 2)[0]
	assert.Equal(t, "--- Regulations under review: unspecified ---", firstLine)
	assert.Equal(t, "plain question", streamer.lastMessages()[1].Content, "no annotation without scopes")
}

func TestRun_NoFragmentsStillProducesArtifact(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	p := NewPipeline(cfg, &scriptedStreamer{})

	var c collector
	final, err := p.Run(context.Background(), Request{Message: "m"}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 1)
	assert.Equal(t, ReportHeader(cfg.Labels, nil), final.Text)
	assert.NotEmpty(t, final.ArtifactPath)
}

func TestRun_EmptyFragmentsSkipped(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	p := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"", "a", "", "", "b", ""}})

	var c collector
	final, err := p.Run(context.Background(), Request{}, c.emit)
	require.NoError(t, err)

	require.Len(t, c.outcomes, 3, "one emission per non-empty fragment plus terminal")
	assert.Equal(t, "a", c.outcomes[0].Fragment)
	assert.Equal(t, "b", c.outcomes[1].Fragment)
	assert.True(t, strings.HasSuffix(final.Text, "ab"))
}

func TestRun_AttachmentsReachPromptInOrder(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &scriptedStreamer{fragments: []string{"x"}}
	p := NewPipeline(cfg, streamer)

	var c collector
	_, err := p.Run(context.Background(), Request{
		Message: "base",
		Attachments: []Attachment{
			TextAttachment("1.txt", "ONE"),
			TextAttachment("2.md", "TWO"),
			TextAttachment("3.txt", "THREE"),
		},
	}, c.emit)
	require.NoError(t, err)

	user := streamer.lastMessages()[1].Content
	assert.Equal(t, "base"+
		cfg.Labels.AttachmentDelimiter+"ONE"+
		cfg.Labels.AttachmentDelimiter+"TWO"+
		cfg.Labels.AttachmentDelimiter+"THREE", user)
}

func TestRun_PassesGenerationParams(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	temp := float32(0.1)
	maxTokens := 1000
	cfg.Temperature = &temp
	cfg.MaxTokens = &maxTokens
	streamer := &scriptedStreamer{}

	_, err := NewPipeline(cfg, streamer).Run(context.Background(), Request{}, (&collector{}).emit)
	require.NoError(t, err)

	require.Len(t, streamer.params, 1)
	assert.Equal(t, &temp, streamer.params[0].Temperature)
	assert.Equal(t, &maxTokens, streamer.params[0].MaxTokens)
}

// =============================================================================
// Properties
// =============================================================================

func TestRun_ConcatenationProperty(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	alphabet := []string{"", "a", "b", " ", "ü", "\n", "风险", "**", "0"}

	for i := 0; i < 50; i++ {
		n := rng.Intn(20)
		fragments := make([]string, n)
		var want strings.Builder
		nonEmpty := 0
		for j := range fragments {
			fragments[j] = alphabet[rng.Intn(len(alphabet))]
			want.WriteString(fragments[j])
			if fragments[j] != "" {
				nonEmpty++
			}
		}

		cfg := testConfig(t)
		var c collector
		final, err := NewPipeline(cfg, &scriptedStreamer{fragments: fragments}).
			Run(context.Background(), Request{Scopes: []string{"AIACT"}}, c.emit)
		require.NoError(t, err)

		assert.Equal(t, ReportHeader(cfg.Labels, []string{"AIACT"})+want.String(), final.Text)
		assert.Len(t, c.outcomes, nonEmpty+1)

		data, err := os.ReadFile(final.ArtifactPath)
		require.NoError(t, err)
		assert.Equal(t, final.Text, string(data))
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	req := Request{
		Message:     "Assess retention",
		Attachments: []Attachment{TextAttachment("a.txt", "retention: 10y")},
		Scopes:      []string{"GDPR", "HIPAA"},
	}
	fragments := []string{"Finding", ": ", "excessive"}

	first, err := NewPipeline(cfg, &scriptedStreamer{fragments: fragments}).Run(context.Background(), req, (&collector{}).emit)
	require.NoError(t, err)
	second, err := NewPipeline(cfg, &scriptedStreamer{fragments: fragments}).Run(context.Background(), req, (&collector{}).emit)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Digest, second.Digest)
	assert.NotEqual(t, first.ArtifactPath, second.ArtifactPath)
}

// =============================================================================
// Cancellation and Sink Failures
// =============================================================================

func TestGenerate_DeliversInOrderThenCloses(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	p := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"a", "b", "c"}})

	var outcomes []Outcome
	for o := range p.Generate(context.Background(), Request{}) {
		outcomes = append(outcomes, o)
	}

	require.Len(t, outcomes, 4)
	assert.Equal(t, []string{"a", "b", "c"}, []string{outcomes[0].Fragment, outcomes[1].Fragment, outcomes[2].Fragment})
	assert.True(t, outcomes[3].Terminal)
	assert.NotEmpty(t, outcomes[3].ArtifactPath)
}

func TestGenerate_AbandonedWritesNoArtifact(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	p := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"first"}, waitForCancel: true})

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Generate(ctx, Request{})

	first := <-ch
	assert.Equal(t, "first", first.Fragment)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range ch {
			assert.False(t, o.Terminal, "no terminal outcome after abandonment")
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
	assertNoArtifacts(t, cfg.ArtifactDir)
}

// gatedStreamer delivers its first fragment at once and each later fragment
// only after gate is closed, without consulting ctx in between.
type gatedStreamer struct {
	fragments []string
	gate      chan struct{}
}

func (g *gatedStreamer) ChatStream(ctx context.Context, _ []llm.Message,
	_ llm.GenerationParams, callback llm.StreamCallback) error {

	for i, f := range g.fragments {
		if i > 0 {
			<-g.gate
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: f}); err != nil {
			return err
		}
	}
	return nil
}

func TestGenerate_NothingDeliveredAfterCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	streamer := &gatedStreamer{fragments: []string{"first", "second", "third"}, gate: make(chan struct{})}
	p := NewPipeline(cfg, streamer)

	for i := 0; i < 20; i++ {
		streamer.gate = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		ch := p.Generate(ctx, Request{})

		first := <-ch
		require.Equal(t, "first", first.Fragment)
		cancel()
		close(streamer.gate)

		var late []Outcome
		for o := range ch {
			late = append(late, o)
		}
		assert.Empty(t, late, "run %d delivered outcomes after cancel", i)
	}
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var c collector
	_, err := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"a"}}).Run(ctx, Request{}, c.emit)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.outcomes)
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_SinkFailureStopsStream(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	gone := errors.New("client gone")

	emitted := 0
	_, err := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"a", "b", "c"}}).Run(context.Background(), Request{},
		func(o Outcome) error {
			emitted++
			if emitted == 2 {
				return gone
			}
			return nil
		})

	var sinkErr *SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 2, emitted)
	assertNoArtifacts(t, cfg.ArtifactDir)
}

func TestRun_TerminalSinkFailureRemovesArtifact(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	_, err := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"a"}}).Run(context.Background(), Request{},
		func(o Outcome) error {
			if o.Terminal {
				return errors.New("client gone")
			}
			return nil
		})

	assert.Error(t, err)
	assertNoArtifacts(t, cfg.ArtifactDir)
}

// =============================================================================
// Construction and Metrics
// =============================================================================

func TestNewPipeline_NilStreamerPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewPipeline(testConfig(t), nil) })
}

func TestRun_RecordsMetrics(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	metrics := observability.NewReportMetrics(prometheus.NewRegistry())

	ok := NewPipeline(cfg, &scriptedStreamer{fragments: []string{"a", "b"}}, WithMetrics(metrics))
	_, err := ok.Run(context.Background(), Request{}, (&collector{}).emit)
	require.NoError(t, err)

	bad := NewPipeline(cfg, &scriptedStreamer{preErr: errors.New("down")}, WithMetrics(metrics))
	_, err = bad.Run(context.Background(), Request{}, (&collector{}).emit)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InvocationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.InvocationsTotal.WithLabelValues("service_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FailuresTotal.WithLabelValues("stream")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FragmentsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArtifactsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveInvocations))
}

func TestRun_ScreensOutgoingContent(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	metrics := observability.NewReportMetrics(prometheus.NewRegistry())
	scanner, err := sensitivity.NewScanner()
	require.NoError(t, err)

	req := Request{
		Message: "Reach me at jdoe@example.com",
		Attachments: []Attachment{
			TextAttachment("creds.txt", "aws AKIA1234567890123456\nbackup ops@example.com"),
		},
	}

	plainStreamer := &scriptedStreamer{fragments: []string{"ok"}}
	plain := NewPipeline(cfg, plainStreamer)
	_, err = plain.Run(context.Background(), req, (&collector{}).emit)
	require.NoError(t, err)

	screenedStreamer := &scriptedStreamer{fragments: []string{"ok"}}
	screened := NewPipeline(cfg, screenedStreamer, WithMetrics(metrics), WithScanner(scanner))
	c := &collector{}
	_, err = screened.Run(context.Background(), req, c.emit)
	require.NoError(t, err)

	assert.Equal(t, plainStreamer.lastMessages(), screenedStreamer.lastMessages(), "screening never alters the prompt")
	assert.NoError(t, c.last().Err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SensitiveFindingsTotal.WithLabelValues("pii")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SensitiveFindingsTotal.WithLabelValues("secret")))
}

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, IsArtifactName(e.Name()), "unexpected artifact %s", e.Name())
	}
}
