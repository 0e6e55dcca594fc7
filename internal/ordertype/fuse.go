package ordertype

import (
	"fmt"
	"math"
	"strings"

	"github.com/betbot/ordercore/internal/domain"
)

// WeightedVote 带视角名和权重的投票
type WeightedVote struct {
	Name   string
	Weight float64
	Vote   Vote
}

// Fusion 融合结果
type Fusion struct {
	Winner                domain.OrderType
	Score                 float64
	Confidence            float64
	EntryPrice            *float64 // 胜出类型里第一个给出价格的投票
	Reasoning             string
	RequiredConfirmations []string
}

// Fuse 加权投票：score[type] += confidence × weight，最高分胜出，平票取最先出现的类型。
// 置信度 = 胜者得分 / 参与投票视角的权重和。纯函数，没有投票时 ok=false。
func Fuse(votes []WeightedVote) (f Fusion, ok bool) {
	scores := make(map[domain.OrderType]float64)
	var order []domain.OrderType
	var totalWeight float64
	var parts []string
	seenConfirm := make(map[string]bool)

	for _, wv := range votes {
		if wv.Weight <= 0 {
			continue
		}
		conf := clamp01(wv.Vote.Confidence)
		if _, exists := scores[wv.Vote.Kind]; !exists {
			order = append(order, wv.Vote.Kind)
		}
		scores[wv.Vote.Kind] += conf * wv.Weight
		totalWeight += wv.Weight
		parts = append(parts, fmt.Sprintf("[%s] %s (confidence %.2f)", wv.Name, wv.Vote.Reasoning, conf))

		if c := wv.Vote.RequiredConfirmation; c != "" && !seenConfirm[c] {
			seenConfirm[c] = true
			f.RequiredConfirmations = append(f.RequiredConfirmations, c)
		}
	}
	if len(order) == 0 || totalWeight <= 0 {
		return Fusion{}, false
	}

	f.Winner = order[0]
	f.Score = scores[order[0]]
	for _, k := range order[1:] {
		if scores[k] > f.Score {
			f.Winner, f.Score = k, scores[k]
		}
	}
	for _, wv := range votes {
		if wv.Weight > 0 && wv.Vote.Kind == f.Winner && wv.Vote.EntryPrice != nil {
			p := *wv.Vote.EntryPrice
			f.EntryPrice = &p
			break
		}
	}
	f.Confidence = clamp01(f.Score / totalWeight)
	f.Reasoning = strings.Join(parts, "; ")
	return f, true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
