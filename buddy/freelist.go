/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package buddy

// freeNode links a free block into the list of its size. Nodes live outside
// the block bytes, so a free block's contents can be scrubbed freely.
type freeNode struct {
	b          block
	prev, next *freeNode
}

type freeList struct {
	head *freeNode
	n    int
}

// freeLists holds one list per bucket index.
type freeLists struct {
	lists []freeList

	// spare recycles unlinked nodes.
	spare *freeNode
}

func newFreeLists(n int) freeLists {
	return freeLists{lists: make([]freeList, n)}
}

// push inserts b at the head of list b.i.
func (l *freeLists) push(b block) {
	n := l.spare
	if n != nil {
		l.spare = n.next
		*n = freeNode{}
	} else {
		n = &freeNode{}
	}
	n.b = b
	fl := &l.lists[b.i]
	n.next = fl.head
	if fl.head != nil {
		fl.head.prev = n
	}
	fl.head = n
	fl.n++
}

// pop removes the head of list i.
func (l *freeLists) pop(i int) (block, bool) {
	n := l.lists[i].head
	if n == nil {
		return block{}, false
	}
	b := n.b
	l.remove(n)
	return b, true
}

// remove unlinks n. The relative order of the remaining nodes is unchanged.
func (l *freeLists) remove(n *freeNode) {
	fl := &l.lists[n.b.i]
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		fl.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	fl.n--
	n.b = block{}
	n.prev = nil
	n.next = l.spare
	l.spare = n
}

// find scans list b.i from the head and stops at the node of b.
func (l *freeLists) find(b block) *freeNode {
	for n := l.lists[b.i].head; n != nil; n = n.next {
		if n.b.f == b.f && n.b.off == b.off {
			return n
		}
	}
	return nil
}

func (l *freeLists) len(i int) int {
	return l.lists[i].n
}

// each calls fn for every node of list i, head first.
func (l *freeLists) each(i int, fn func(b block)) {
	for n := l.lists[i].head; n != nil; n = n.next {
		fn(n.b)
	}
}
