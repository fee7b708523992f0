package reservation

// Calendar is a red-black tree of half-open booking intervals [start, end)
// keyed by start time. No two stored intervals overlap; adjacent intervals
// (end == nextStart) are allowed. Parent pointers are position metadata only,
// the tree exclusively owns its nodes.
type Calendar struct {
	root     *calNode
	sentinel *calNode
	size     int
}

type calColor uint8

const (
	calRed calColor = iota
	calBlack
)

type calNode struct {
	start  int64
	end    int64
	color  calColor
	left   *calNode
	right  *calNode
	parent *calNode
}

// Interval is a stored booking window.
type Interval struct {
	Start int64
	End   int64
}

// NewCalendar returns an empty calendar.
func NewCalendar() *Calendar {
	nilNode := &calNode{color: calBlack}
	return &Calendar{root: nilNode, sentinel: nilNode}
}

// Len returns the number of stored intervals.
func (c *Calendar) Len() int { return c.size }

// Exists reports whether an interval starting at start is stored.
func (c *Calendar) Exists(start int64) bool {
	return c.search(start) != c.sentinel
}

// HasConflict reports whether [start, end) would collide with a stored
// interval: either a booking already starts at start or the window overlaps
// an existing one. It never mutates the tree.
func (c *Calendar) HasConflict(start, end int64) bool {
	if start >= end {
		// Degenerate probe; conflicts only on an exact key collision.
		return c.Exists(start)
	}
	n := c.root
	for n != c.sentinel {
		switch {
		case end <= n.start:
			n = n.left
		case start >= n.end:
			n = n.right
		default:
			return true
		}
	}
	return false
}

// Insert stores [start, end), failing with ErrOverlap when the window
// intersects a stored interval or an interval with the same start exists.
func (c *Calendar) Insert(start, end int64) error {
	if start >= end {
		return ErrOverlap
	}
	y := c.sentinel
	x := c.root
	for x != c.sentinel {
		y = x
		switch {
		case end <= x.start:
			x = x.left
		case start >= x.end:
			x = x.right
		default:
			return ErrOverlap
		}
	}
	z := &calNode{start: start, end: end, color: calRed, left: c.sentinel, right: c.sentinel, parent: y}
	switch {
	case y == c.sentinel:
		c.root = z
	case start < y.start:
		y.left = z
	default:
		y.right = z
	}
	c.insertFixup(z)
	c.size++
	return nil
}

// Remove deletes the interval starting at start, failing with
// ErrIntervalNotFound when absent.
func (c *Calendar) Remove(start int64) error {
	z := c.search(start)
	if z == c.sentinel {
		return ErrIntervalNotFound
	}
	c.delete(z)
	c.size--
	return nil
}

// First returns the earliest stored interval.
func (c *Calendar) First() (Interval, bool) {
	n := c.minNode(c.root)
	if n == c.sentinel {
		return Interval{}, false
	}
	return Interval{Start: n.start, End: n.end}, true
}

// Last returns the latest stored interval.
func (c *Calendar) Last() (Interval, bool) {
	n := c.maxNode(c.root)
	if n == c.sentinel {
		return Interval{}, false
	}
	return Interval{Start: n.start, End: n.end}, true
}

// Next returns the stored interval immediately after the one starting at
// start.
func (c *Calendar) Next(start int64) (Interval, bool) {
	n := c.search(start)
	if n == c.sentinel {
		return Interval{}, false
	}
	s := c.successor(n)
	if s == c.sentinel {
		return Interval{}, false
	}
	return Interval{Start: s.start, End: s.end}, true
}

// Prev returns the stored interval immediately before the one starting at
// start.
func (c *Calendar) Prev(start int64) (Interval, bool) {
	n := c.search(start)
	if n == c.sentinel {
		return Interval{}, false
	}
	p := c.predecessor(n)
	if p == c.sentinel {
		return Interval{}, false
	}
	return Interval{Start: p.start, End: p.end}, true
}

// Ascend walks the stored intervals in increasing start order until fn
// returns false.
func (c *Calendar) Ascend(fn func(Interval) bool) {
	for n := c.minNode(c.root); n != c.sentinel; n = c.successor(n) {
		if !fn(Interval{Start: n.start, End: n.end}) {
			return
		}
	}
}

func (c *Calendar) search(start int64) *calNode {
	n := c.root
	for n != c.sentinel {
		switch {
		case start < n.start:
			n = n.left
		case start > n.start:
			n = n.right
		default:
			return n
		}
	}
	return c.sentinel
}

func (c *Calendar) minNode(n *calNode) *calNode {
	if n == c.sentinel {
		return n
	}
	for n.left != c.sentinel {
		n = n.left
	}
	return n
}

func (c *Calendar) maxNode(n *calNode) *calNode {
	if n == c.sentinel {
		return n
	}
	for n.right != c.sentinel {
		n = n.right
	}
	return n
}

func (c *Calendar) successor(n *calNode) *calNode {
	if n.right != c.sentinel {
		return c.minNode(n.right)
	}
	p := n.parent
	for p != c.sentinel && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (c *Calendar) predecessor(n *calNode) *calNode {
	if n.left != c.sentinel {
		return c.maxNode(n.left)
	}
	p := n.parent
	for p != c.sentinel && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (c *Calendar) rotateLeft(x *calNode) {
	y := x.right
	x.right = y.left
	if y.left != c.sentinel {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == c.sentinel:
		c.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (c *Calendar) rotateRight(x *calNode) {
	y := x.left
	x.left = y.right
	if y.right != c.sentinel {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == c.sentinel:
		c.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (c *Calendar) insertFixup(z *calNode) {
	for z.parent.color == calRed {
		if z.parent == z.parent.parent.left {
			uncle := z.parent.parent.right
			if uncle.color == calRed {
				z.parent.color = calBlack
				uncle.color = calBlack
				z.parent.parent.color = calRed
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					c.rotateLeft(z)
				}
				z.parent.color = calBlack
				z.parent.parent.color = calRed
				c.rotateRight(z.parent.parent)
			}
		} else {
			uncle := z.parent.parent.left
			if uncle.color == calRed {
				z.parent.color = calBlack
				uncle.color = calBlack
				z.parent.parent.color = calRed
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					c.rotateRight(z)
				}
				z.parent.color = calBlack
				z.parent.parent.color = calRed
				c.rotateLeft(z.parent.parent)
			}
		}
	}
	c.root.color = calBlack
}

func (c *Calendar) transplant(u, v *calNode) {
	switch {
	case u.parent == c.sentinel:
		c.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (c *Calendar) delete(z *calNode) {
	y := z
	yOriginal := y.color
	var x *calNode
	switch {
	case z.left == c.sentinel:
		x = z.right
		c.transplant(z, z.right)
	case z.right == c.sentinel:
		x = z.left
		c.transplant(z, z.left)
	default:
		y = c.minNode(z.right)
		yOriginal = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			c.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		c.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}
	if yOriginal == calBlack {
		c.deleteFixup(x)
	}
}

func (c *Calendar) deleteFixup(x *calNode) {
	for x != c.root && x.color == calBlack {
		if x == x.parent.left {
			sibling := x.parent.right
			if sibling.color == calRed {
				sibling.color = calBlack
				x.parent.color = calRed
				c.rotateLeft(x.parent)
				sibling = x.parent.right
			}
			if sibling.left.color == calBlack && sibling.right.color == calBlack {
				sibling.color = calRed
				x = x.parent
			} else {
				if sibling.right.color == calBlack {
					sibling.left.color = calBlack
					sibling.color = calRed
					c.rotateRight(sibling)
					sibling = x.parent.right
				}
				sibling.color = x.parent.color
				x.parent.color = calBlack
				sibling.right.color = calBlack
				c.rotateLeft(x.parent)
				x = c.root
			}
		} else {
			sibling := x.parent.left
			if sibling.color == calRed {
				sibling.color = calBlack
				x.parent.color = calRed
				c.rotateRight(x.parent)
				sibling = x.parent.left
			}
			if sibling.right.color == calBlack && sibling.left.color == calBlack {
				sibling.color = calRed
				x = x.parent
			} else {
				if sibling.left.color == calBlack {
					sibling.right.color = calBlack
					sibling.color = calRed
					c.rotateLeft(sibling)
					sibling = x.parent.left
				}
				sibling.color = x.parent.color
				x.parent.color = calBlack
				sibling.left.color = calBlack
				c.rotateRight(x.parent)
				x = c.root
			}
		}
	}
	x.color = calBlack
}
