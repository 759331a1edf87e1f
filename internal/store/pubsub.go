package store

// Subscribe gets-or-creates the channel's broadcaster and returns a fresh
// bounded subscription and the id used to later Unsubscribe. Receivers that
// lag beyond ChannelCapacity silently miss messages rather than failing.
func (s *Store) Subscribe(name string) (id int64, out <-chan []byte) {
	s.mu.Lock()
	ch, ok := s.pubsub[name]
	if !ok {
		ch = &channel{subs: make(map[int64]chan []byte)}
		s.pubsub[name] = ch
	}
	capacity := s.chanCap
	s.mu.Unlock()

	ch.mu.Lock()
	id = ch.next
	ch.next++
	buf := make(chan []byte, capacity)
	ch.subs[id] = buf
	ch.mu.Unlock()
	return id, buf
}

// Unsubscribe removes and closes one subscriber's channel. The broadcaster
// itself is never removed, even once its last subscriber leaves: dropping
// all receivers does not remove the sender.
func (s *Store) Unsubscribe(name string, id int64) {
	s.mu.Lock()
	ch, ok := s.pubsub[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	if buf, ok := ch.subs[id]; ok {
		delete(ch.subs, id)
		close(buf)
	}
	ch.mu.Unlock()
}

// Publish fans msg out to every current subscriber of name, returning the
// count of receivers actually reached. A lagging subscriber whose buffer is
// full drops the message rather than blocking the publisher or counting
// toward the result.
func (s *Store) Publish(name string, msg []byte) int {
	s.mu.Lock()
	ch, ok := s.pubsub[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	n := 0
	for _, buf := range ch.subs {
		select {
		case buf <- msg:
			n++
		default:
		}
	}
	return n
}

// SubscriberCount reports the live subscriber count for name across all
// connections.
func (s *Store) SubscriberCount(name string) int {
	s.mu.Lock()
	ch, ok := s.pubsub[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subs)
}
