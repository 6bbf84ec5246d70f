package sched

// tqueue 线程 FIFO 队列
// 自身不做同步,由持有它的容器锁保护。
type tqueue struct {
	items []*Thread
}

// push 追加到队尾
func (q *tqueue) push(t *Thread) {
	q.items = append(q.items, t)
}

// pushFront 插到队头
func (q *tqueue) pushFront(t *Thread) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = t
}

// pop 弹出队头,空队列返回 nil
func (q *tqueue) pop() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// peek 看一眼队头,不弹出
func (q *tqueue) peek() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// remove 摘掉指定线程,保持其余顺序;不在队里返回 false
func (q *tqueue) remove(t *Thread) bool {
	for i, it := range q.items {
		if it != t {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		return true
	}
	return false
}

func (q *tqueue) size() int { return len(q.items) }

func (q *tqueue) empty() bool { return len(q.items) == 0 }
