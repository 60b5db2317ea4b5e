package hnsw

// Stats returns per-layer node and edge counts.
func (h *HNSW) Stats() Stats {
	st := Stats{
		Nodes:      len(h.nodes),
		EntryPoint: h.entryPoint,
		MaxLevel:   h.maxLevel,
		Seed:       h.seed,
	}

	if len(h.nodes) == 0 {
		return st
	}

	st.Levels = make([]LevelStats, h.maxLevel+1)
	for l := range st.Levels {
		st.Levels[l].Level = l
	}

	for i := range h.nodes {
		for l, conns := range h.nodes[i].connections {
			st.Levels[l].Nodes++
			st.Levels[l].Connections += len(conns)
		}
	}

	for l := range st.Levels {
		if st.Levels[l].Nodes > 0 {
			st.Levels[l].AvgConnections = float64(st.Levels[l].Connections) / float64(st.Levels[l].Nodes)
		}
	}

	return st
}
