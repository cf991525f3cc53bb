package verifier

// LedgerSize reports how many channels the ledger tracks.
func (v *Verifier) LedgerSize() int {
	v.channelsMu.Lock()
	defer v.channelsMu.Unlock()

	return len(v.channels)
}
