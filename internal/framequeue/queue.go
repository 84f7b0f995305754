// Package framequeue はプロデューサーとコンシューマーの間でフレームを受け渡す
// 無制限のFIFOキューを提供する
//
// # 仕様
// - Push はブロックせず、容量の上限もない（コンシューマーが遅いとメモリが増え続ける）
// - Pop は要素が届くか、キューがクローズされるまでブロックする
// - Drain は現在キューにある要素を配送せずに破棄する（停止処理専用）
// - キュー自身がフレームを捨てることはない
package framequeue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed はクローズ済みのキューに対する操作で返される
var ErrClosed = errors.New("キューはクローズされています")

// Queue は無制限のスレッドセーフなFIFOキュー
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

// New は空のキューを作成する
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push は要素を末尾に追加する。クローズ後は ErrClosed を返す
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Pop は先頭の要素を取り出す
//
// 要素がなければ、要素が届くかキューがクローズされるか ctx がキャンセルされるまで
// ブロックする。クローズ後も残っている要素は順に返し、空になった時点で ErrClosed を返す。
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	// ctx のキャンセルで cond.Wait を起こす
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.len() == 0 {
		if q.closed {
			var zero T
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		q.cond.Wait()
	}

	return q.shift(), nil
}

// TryPop はブロックせずに先頭の要素を取り出す
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.len() == 0 {
		var zero T
		return zero, false
	}
	return q.shift(), true
}

// Drain はキュー内の全要素を破棄し、破棄した件数を返す
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.len()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}

// Close はキューをクローズし、待機中の Pop を全て起こす。2回目以降は何もしない
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Closed はキューがクローズ済みかを返す
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len は現在キューにある要素数を返す
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// len は要素数を返す（ロック済み前提）
func (q *Queue[T]) len() int {
	return len(q.items) - q.head
}

// shift は先頭要素を取り出す（ロック済み前提、要素があること）
func (q *Queue[T]) shift() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// 取り出し済みの領域が半分を超えたら詰め直す
	if q.head > len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item
}
