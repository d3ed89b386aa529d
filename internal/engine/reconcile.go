package engine

// Reconcile merges an incoming full-map snapshot with local state. This
// is a last-writer-wins merge with a bounded grace window, not a CRDT:
// a token with a non-expired ledger entry keeps its local version, every
// other token is taken from the snapshot, and an active-dirty token the
// snapshot has never seen (a just-created one) is appended rather than
// dropped. The viewport is local camera state and survives every merge
// untouched. Afterwards the ledger holds exactly the entries that were
// still active.
//
// Two users editing the same token inside the window race: whichever
// snapshot lands last wins on the other's screen. Accepted limitation;
// resolving it would need per-field versions.
func (s *Store) Reconcile(incoming *Map) {
	if incoming == nil {
		return
	}
	now := s.now()
	active := s.ledger.Prune(now)

	local := s.m
	merged := incoming.Clone()
	merged.Normalize()

	for i := range merged.Tokens {
		if !active[merged.Tokens[i].ID] {
			continue
		}
		if j := local.tokenIndex(merged.Tokens[i].ID); j >= 0 {
			merged.Tokens[i] = local.Tokens[j].clone()
		}
	}

	seen := make(map[string]bool, len(merged.Tokens))
	for i := range merged.Tokens {
		seen[merged.Tokens[i].ID] = true
	}
	for j := range local.Tokens {
		id := local.Tokens[j].ID
		if active[id] && !seen[id] {
			merged.Tokens = append(merged.Tokens, local.Tokens[j].clone())
		}
	}

	merged.Viewport = local.Viewport
	s.m = merged
}
