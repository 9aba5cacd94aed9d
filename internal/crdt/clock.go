package crdt

import (
	"math"
	"sync"
	"time"
)

// Clock представляет гибридные часы контекста: физическое время в миллисекундах,
// которое никогда не убывает и строго возрастает при каждом локальном событии.
// Это сохраняет уникальность пары (tabId, timestamp) даже при нескольких
// событиях в одну миллисекунду или при переводе системных часов назад.
type Clock struct {
	now  func() time.Time // источник физического времени
	last int64            // последняя выданная или наблюдаемая метка
	mu   sync.Mutex       // мьютекс для потокобезопасности
}

// NewClock создает часы с заданным источником времени.
// nil означает time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Tick возвращает метку для нового локального события.
// Результат строго больше любой ранее выданной или наблюдаемой метки,
// кроме насыщения на math.MaxInt64: метка не переполняется в отрицательную.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last
		if ts < math.MaxInt64 {
			ts++
		}
	}
	c.last = ts

	return ts
}

// Observe учитывает метку, полученную от другого контекста.
// Следующий Tick вернет значение больше remote.
func (c *Clock) Observe(remote int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.last {
		c.last = remote
	}
}

// WallMillis возвращает текущее физическое время без изменения состояния часов.
// Используется для проверки устаревания входящих сообщений.
func (c *Clock) WallMillis() int64 {
	return c.now().UnixMilli()
}

// Last возвращает последнюю выданную или наблюдаемую метку.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}
