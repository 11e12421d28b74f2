package stats

import (
	"context"
	"encoding/json"

	"codebattle/internal/common/mq"
	"codebattle/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTopic is where battle outcome events land.
const DefaultTopic = "battle.finished"

// BattleFinished is one participant's outcome delta. The consumer on
// the other side of the topic folds it into the user's profile.
type BattleFinished struct {
	UserID             string `json:"user_id"`
	BattleID           string `json:"battle_id"`
	BattlesPlayedDelta int    `json:"battles_played_delta"`
	BattlesWonDelta    int    `json:"battles_won_delta"`
	RatingDelta        int    `json:"rating_delta"`
}

// Publisher emits battle outcome events.
type Publisher interface {
	PublishBattleFinished(ctx context.Context, events []BattleFinished)
}

// KafkaPublisher sends outcome events to a kafka topic. Publishing is
// fire-and-forget: failures are logged and never block completion.
type KafkaPublisher struct {
	producer mq.Producer
	topic    string
}

// NewKafkaPublisher creates a publisher over the given producer.
func NewKafkaPublisher(producer mq.Producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishBattleFinished(ctx context.Context, events []BattleFinished) {
	if len(events) == 0 {
		return
	}
	messages := make([]*mq.Message, 0, len(events))
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			logger.Error(ctx, "marshal battle_finished event failed",
				zap.String("user_id", event.UserID), zap.Error(err))
			continue
		}
		msg := mq.NewMessage(body)
		msg.ID = uuid.NewString()
		msg.SetHeader("event", "battle_finished")
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return
	}
	if err := p.producer.PublishBatch(ctx, p.topic, messages); err != nil {
		logger.Error(ctx, "publish battle_finished events failed",
			zap.Int("count", len(messages)), zap.Error(err))
	}
}

// NopPublisher drops events. Used when kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishBattleFinished(ctx context.Context, events []BattleFinished) {}

var _ Publisher = (*KafkaPublisher)(nil)
var _ Publisher = NopPublisher{}
