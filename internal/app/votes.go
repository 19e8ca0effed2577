package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"thisorthat/api/internal/broadcast"
	"thisorthat/api/internal/store"
)

type OptionTally struct {
	Value string  `json:"value"`
	Count int     `json:"count"`
	URL   *string `json:"url"`
}

// VoteEvent is the payload broadcast after every vote.
type VoteEvent struct {
	PairID  int64       `json:"pair_id"`
	Option1 OptionTally `json:"option_1"`
	Option2 OptionTally `json:"option_2"`
}

type VoteResult struct {
	Vote  store.Vote
	Event VoteEvent
}

func newVoteEvent(p store.Pair, v store.Vote) VoteEvent {
	return VoteEvent{
		PairID:  p.ID,
		Option1: OptionTally{Value: p.Option1Value, Count: v.Option1Count, URL: p.Option1URL},
		Option2: OptionTally{Value: p.Option2Value, Count: v.Option2Count, URL: p.Option2URL},
	}
}

// RecordVote adds one vote to the chosen option of a pair and broadcasts the new counts.
func (s *Service) RecordVote(ctx context.Context, pairID int64, option int) (VoteResult, error) {
	if option != 1 && option != 2 {
		return VoteResult{}, validationError("option must be 1 or 2", map[string]any{"option": option})
	}

	pair, err := s.store.GetPair(ctx, pairID)
	if err != nil {
		return VoteResult{}, err
	}

	vote, err := s.store.IncrementVote(ctx, pair, option)
	if err != nil {
		return VoteResult{}, fmt.Errorf("record vote: %w", err)
	}
	s.metrics.VotesTotal.WithLabelValues(strconv.Itoa(option)).Inc()

	event := newVoteEvent(pair, vote)
	s.publish(broadcast.Event{Type: "vote", Data: event})
	return VoteResult{Vote: vote, Event: event}, nil
}

// publish hands the event to the broadcaster without waiting for it.
func (s *Service) publish(event broadcast.Event) {
	if s.broadcaster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		defer cancel()
		if err := s.broadcaster.Publish(ctx, event); err != nil {
			s.metrics.BroadcastFailures.Inc()
			s.log.Warn().Err(err).Str("event", event.Type).Msg("broadcast failed")
		}
	}()
}

type RankedVote struct {
	PairID            int64       `json:"pair_id"`
	Type              string      `json:"type"`
	Option1           OptionTally `json:"option_1"`
	Option2           OptionTally `json:"option_2"`
	TotalVotes        int         `json:"total_votes"`
	Majority          int         `json:"majority"`
	WinningPercentage float64     `json:"winning_percentage"`
}

type VoteList struct {
	Votes   []RankedVote `json:"votes"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
}

// ListVotes ranks voted pairs by the share of the leading option, then by vote count.
func (s *Service) ListVotes(ctx context.Context, limit, offset int) (VoteList, error) {
	limit, offset = clampPage(limit, offset)

	items, err := s.store.ListPairVotes(ctx)
	if err != nil {
		return VoteList{}, fmt.Errorf("list votes: %w", err)
	}

	ranked := make([]RankedVote, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, rankVote(item))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].WinningPercentage != ranked[j].WinningPercentage {
			return ranked[i].WinningPercentage > ranked[j].WinningPercentage
		}
		if ranked[i].TotalVotes != ranked[j].TotalVotes {
			return ranked[i].TotalVotes > ranked[j].TotalVotes
		}
		return ranked[i].PairID > ranked[j].PairID
	})

	total := len(ranked)
	start := min(offset, total)
	end := min(offset+limit, total)
	return VoteList{
		Votes:   ranked[start:end],
		Total:   total,
		HasMore: offset+limit < total,
	}, nil
}

func rankVote(item store.PairVotes) RankedVote {
	event := newVoteEvent(item.Pair, item.Vote)
	total := item.Vote.Total()
	r := RankedVote{
		PairID:     item.Pair.ID,
		Type:       item.Pair.Type,
		Option1:    event.Option1,
		Option2:    event.Option2,
		TotalVotes: total,
		Majority:   abs(item.Vote.Option1Count - item.Vote.Option2Count),
	}
	if total > 0 {
		r.WinningPercentage = float64(max(item.Vote.Option1Count, item.Vote.Option2Count)) / float64(total)
	}
	return r
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// RandomVotedPair picks one pair that has received at least one vote.
func (s *Service) RandomVotedPair(ctx context.Context) (PairView, error) {
	items, err := s.store.ListPairVotes(ctx)
	if err != nil {
		return PairView{}, fmt.Errorf("list votes: %w", err)
	}
	if len(items) == 0 {
		return PairView{}, notFound("No pairs with votes found", nil)
	}
	item := items[s.intn(len(items))]
	return newPairView(item.Pair, item.Vote), nil
}
