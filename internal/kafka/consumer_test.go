package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.ScoreSubmission
}

func (h *recordingHandler) SubmitScoreBatch(_ context.Context, batch domain.BatchScoreSubmission) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]domain.ScoreSubmission(nil), batch.Scores...))
	return len(batch.Scores), nil
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "game-results" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newHandler(t *testing.T, batchSize int) (*consumerGroupHandler, *recordingHandler) {
	t.Helper()
	rec := &recordingHandler{}
	c := &Consumer{
		config: &config.KafkaConfig{
			Topic:        "game-results",
			BatchSize:    batchSize,
			BatchTimeout: time.Hour,
		},
		handler: rec,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return &consumerGroupHandler{consumer: c, ready: make(chan bool)}, rec
}

func message(t *testing.T, offset int64, v any) *sarama.ConsumerMessage {
	t.Helper()
	var data []byte
	if s, ok := v.(string); ok {
		data = []byte(s)
	} else {
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return &sarama.ConsumerMessage{Topic: "game-results", Offset: offset, Value: data}
}

func TestConsumeClaimBatches(t *testing.T) {
	h, rec := newHandler(t, 2)
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 8)}

	claim.messages <- message(t, 0, GameResult{UserID: "u1", Score: 2450, Mode: domain.ModeWalls})
	claim.messages <- message(t, 1, "not json")
	claim.messages <- message(t, 2, GameResult{UserID: "u2", Score: -5, Mode: domain.ModeWalls})
	claim.messages <- message(t, 3, GameResult{Score: 10, Mode: domain.ModeWalls})
	claim.messages <- message(t, 4, GameResult{UserID: "u2", Score: 1890, Mode: domain.ModePassThrough, GameID: "g-9"})
	claim.messages <- message(t, 5, GameResult{UserID: "u3", Score: 100, Mode: domain.ModeWalls})
	close(claim.messages)

	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, rec.batches, 2)
	assert.Equal(t, []domain.ScoreSubmission{
		{UserID: "u1", Score: 2450, Mode: domain.ModeWalls},
		{UserID: "u2", Score: 1890, Mode: domain.ModePassThrough},
	}, rec.batches[0])
	assert.Equal(t, []domain.ScoreSubmission{{UserID: "u3", Score: 100, Mode: domain.ModeWalls}}, rec.batches[1])
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, session.marked, "malformed results are skipped, not redelivered")
}

func TestConsumeClaimFlushesOnSessionEnd(t *testing.T) {
	h, rec := newHandler(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(t, 0, GameResult{UserID: "u1", Score: 7, Mode: domain.ModeWalls})

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(session, claim) }()

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.marked) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeClaim did not return after the session ended")
	}
	require.Len(t, rec.batches, 1)
	assert.Equal(t, int64(7), rec.batches[0][0].Score)
}

func TestSetupIsIdempotent(t *testing.T) {
	h, _ := newHandler(t, 1)
	require.NoError(t, h.Setup(nil))
	require.NoError(t, h.Setup(nil))

	select {
	case <-h.ready:
	default:
		t.Fatal("ready was not closed")
	}
}
