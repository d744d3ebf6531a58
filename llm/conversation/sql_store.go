package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/store"
)

// SQLStore keeps entries in the aigate_conversation_turns table.
type SQLStore struct {
	repo *store.ConversationRepository
}

func NewSQLStore(repo *store.ConversationRepository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	topics, err := marshalOptional(e.Topics, len(e.Topics) == 0)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	status, err := marshalOptional(e.Status, len(e.Status) == 0)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return s.repo.Append(ctx, &store.ConversationTurn{
		UserID:    e.UserID,
		Feature:   e.Feature,
		Prompt:    e.Prompt,
		Response:  e.Response,
		Provider:  e.Provider,
		Topics:    topics,
		Status:    status,
		CreatedAt: e.CreatedAt,
	})
}

func (s *SQLStore) Recent(ctx context.Context, userID string, feature llm.Feature, limit int) ([]Entry, error) {
	turns, err := s.repo.Recent(ctx, userID, string(feature), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(turns))
	for _, t := range turns {
		e := Entry{
			UserID:    t.UserID,
			Feature:   t.Feature,
			Prompt:    t.Prompt,
			Response:  t.Response,
			Provider:  t.Provider,
			CreatedAt: t.CreatedAt,
		}
		if t.Topics != "" {
			if err := json.Unmarshal([]byte(t.Topics), &e.Topics); err != nil {
				return nil, fmt.Errorf("decode topics of turn %s: %w", t.ID, err)
			}
		}
		if t.Status != "" {
			if err := json.Unmarshal([]byte(t.Status), &e.Status); err != nil {
				return nil, fmt.Errorf("decode status of turn %s: %w", t.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func marshalOptional(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
