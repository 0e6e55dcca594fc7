package coordinator

// Statistics 协调器统计
type Statistics struct {
	TotalPendingOrders      int            `json:"total_pending_orders"`
	PendingBySymbol         map[string]int `json:"pending_by_symbol"`
	PendingByAgent          map[string]int `json:"pending_by_agent"`
	OrderConflicts          int64          `json:"order_conflicts"`
	SuccessfulCoordinations int64          `json:"successful_coordinations"`
}

// Statistics 统计 PENDING 分布；botID 为空表示全部 bot。
// 冲突/成功计数是实例级累计值，不按 bot 区分。
func (c *Coordinator) Statistics(botID string) Statistics {
	st := Statistics{
		PendingBySymbol: make(map[string]int),
		PendingByAgent:  make(map[string]int),
	}
	if c == nil {
		return st
	}
	for _, b := range c.snapshotBooks() {
		b.mu.Lock()
		for _, in := range b.intents {
			if !in.IsPending() || (botID != "" && in.BotID != botID) {
				continue
			}
			st.TotalPendingOrders++
			st.PendingBySymbol[in.Symbol]++
			st.PendingByAgent[in.RequestingAgent]++
		}
		b.mu.Unlock()
	}
	st.OrderConflicts = c.orderConflicts.Load()
	st.SuccessfulCoordinations = c.successfulCoordinations.Load()
	return st
}
