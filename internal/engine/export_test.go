package engine

var NewKeyedLocks = newKeyedLocks

// Held reports how many keys currently have a lock entry.
func (k *keyedLocks) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
