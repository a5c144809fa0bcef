package broadcast

import "sync"

// Value 当前值广播器
//   - 新订阅者立即收到当前值，之后收到每一次更新
//   - 每个订阅者缓冲 1 个值，慢订阅者只会丢掉过期值，总能拿到最新值
type Value[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
}

// NewValue 以初始值创建广播器
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[uint64]chan T),
	}
}

// Current 当前值
func (v *Value[T]) Current() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set 更新当前值并推送给所有订阅者
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.current = val
	for _, ch := range v.subs {
		offer(ch, val)
	}
}

// Subscribe 订阅；返回的 cancel 可重复调用
// 广播器关闭后 channel 会被关闭
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	ch <- v.current
	if v.closed {
		close(ch)
		return ch, func() {}
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if c, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Subscribers 当前订阅者数量
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close 关闭所有订阅 channel，之后的 Set 被忽略
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

// offer 非阻塞投递；缓冲已满时用新值替换旧值（调用方持有锁，是唯一写入者）
func offer[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- val
}
