package market

// priceTree is a red-black tree of price levels keyed by money.Decimal,
// caching the best (highest or lowest, depending on desc) node pointer so
// top-of-book reads are true O(1) instead of re-sorting every level on
// every call, per spec.md §4.6 ("best_bid/best_ask are O(1)").
//
// Grounded on rishavpaul-system-design/order-matching-engine's
// internal/orderbook/rbtree.go: same rotate/insert-fixup/delete-fixup
// structure, generalized from an int64-keyed tree of *PriceLevel (each
// holding a FIFO order queue) to a money.Decimal-keyed tree of bare
// quantities — this book tracks aggregate depth per price, not individual
// resting orders, so there is no per-level order queue to carry.
import "github.com/tradecore/engine/pkg/money"

type rbColor bool

const (
	rbRed   rbColor = true
	rbBlack rbColor = false
)

type priceNode struct {
	price  money.Decimal
	qty    money.Decimal
	color  rbColor
	left   *priceNode
	right  *priceNode
	parent *priceNode
}

// priceTree is keyed by price, ascending, regardless of desc. desc only
// selects which cached pointer Best() reports.
type priceTree struct {
	root *priceNode
	size int
	min  *priceNode // cached for O(1) access
	max  *priceNode // cached for O(1) access
	desc bool       // true: Best() reports max (bids); false: reports min (asks)
}

func newPriceTree(desc bool) *priceTree {
	return &priceTree{desc: desc}
}

// Len returns the number of distinct price levels.
func (t *priceTree) Len() int { return t.size }

// Best returns the top-of-book level for this side.
// Time complexity: O(1), via the cached min/max pointer.
func (t *priceTree) Best() (price, qty money.Decimal, ok bool) {
	n := t.min
	if t.desc {
		n = t.max
	}
	if n == nil {
		return money.Decimal{}, money.Decimal{}, false
	}
	return n.price, n.qty, true
}

// Upsert inserts a new price level or updates an existing one's quantity.
// Time complexity: O(log n).
func (t *priceTree) Upsert(price, qty money.Decimal) {
	if t.root == nil {
		n := &priceNode{price: price, qty: qty, color: rbBlack}
		t.root = n
		t.min, t.max = n, n
		t.size = 1
		return
	}

	var parent *priceNode
	cur := t.root
	for cur != nil {
		parent = cur
		switch price.Cmp(cur.price) {
		case 0:
			cur.qty = qty
			return
		case -1:
			cur = cur.left
		default:
			cur = cur.right
		}
	}

	n := &priceNode{price: price, qty: qty, color: rbRed, parent: parent}
	if price.Cmp(parent.price) < 0 {
		parent.left = n
	} else {
		parent.right = n
	}
	t.size++

	if t.min == nil || price.Cmp(t.min.price) < 0 {
		t.min = n
	}
	if t.max == nil || price.Cmp(t.max.price) > 0 {
		t.max = n
	}

	t.insertFixup(n)
}

// Delete removes a price level. No-op if price isn't present.
// Time complexity: O(log n).
func (t *priceTree) Delete(price money.Decimal) {
	n := t.search(price)
	if n == nil {
		return
	}
	t.size--

	if n == t.min {
		t.min = t.successor(n)
	}
	if n == t.max {
		t.max = t.predecessor(n)
	}

	t.deleteNode(n)
}

// ForEach walks every level in ascending price order.
func (t *priceTree) ForEach(fn func(price, qty money.Decimal)) {
	t.inOrder(t.root, fn)
}

func (t *priceTree) inOrder(n *priceNode, fn func(price, qty money.Decimal)) {
	if n == nil {
		return
	}
	t.inOrder(n.left, fn)
	fn(n.price, n.qty)
	t.inOrder(n.right, fn)
}

func (t *priceTree) search(price money.Decimal) *priceNode {
	cur := t.root
	for cur != nil {
		switch price.Cmp(cur.price) {
		case 0:
			return cur
		case -1:
			cur = cur.left
		default:
			cur = cur.right
		}
	}
	return nil
}

func (t *priceTree) successor(n *priceNode) *priceNode {
	if n.right != nil {
		cur := n.right
		for cur.left != nil {
			cur = cur.left
		}
		return cur
	}
	p := n.parent
	for p != nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *priceTree) predecessor(n *priceNode) *priceNode {
	if n.left != nil {
		cur := n.left
		for cur.right != nil {
			cur = cur.right
		}
		return cur
	}
	p := n.parent
	for p != nil && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (t *priceTree) rotateLeft(x *priceNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *priceTree) rotateRight(x *priceNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *priceTree) insertFixup(z *priceNode) {
	for z.parent != nil && z.parent.color == rbRed {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y != nil && y.color == rbRed {
				z.parent.color = rbBlack
				y.color = rbBlack
				z.parent.parent.color = rbRed
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.color = rbBlack
				z.parent.parent.color = rbRed
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y != nil && y.color == rbRed {
				z.parent.color = rbBlack
				y.color = rbBlack
				z.parent.parent.color = rbRed
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.color = rbBlack
				z.parent.parent.color = rbRed
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.color = rbBlack
}

func (t *priceTree) transplant(u, v *priceNode) {
	if u.parent == nil {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func (t *priceTree) deleteNode(z *priceNode) {
	var x, xParent *priceNode
	y := z
	yOriginalColor := y.color

	if z.left == nil {
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	} else if z.right == nil {
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	} else {
		y = z.right
		for y.left != nil {
			y = y.left
		}
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == rbBlack {
		t.deleteFixup(x, xParent)
	}
}

func (t *priceTree) deleteFixup(x *priceNode, xParent *priceNode) {
	for x != t.root && (x == nil || x.color == rbBlack) {
		if x == xParent.left {
			w := xParent.right
			if w != nil && w.color == rbRed {
				w.color = rbBlack
				xParent.color = rbRed
				t.rotateLeft(xParent)
				w = xParent.right
			}
			if w == nil || ((w.left == nil || w.left.color == rbBlack) && (w.right == nil || w.right.color == rbBlack)) {
				if w != nil {
					w.color = rbRed
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.right == nil || w.right.color == rbBlack {
					if w.left != nil {
						w.left.color = rbBlack
					}
					w.color = rbRed
					t.rotateRight(w)
					w = xParent.right
				}
				w.color = xParent.color
				xParent.color = rbBlack
				if w.right != nil {
					w.right.color = rbBlack
				}
				t.rotateLeft(xParent)
				x = t.root
			}
		} else {
			w := xParent.left
			if w != nil && w.color == rbRed {
				w.color = rbBlack
				xParent.color = rbRed
				t.rotateRight(xParent)
				w = xParent.left
			}
			if w == nil || ((w.right == nil || w.right.color == rbBlack) && (w.left == nil || w.left.color == rbBlack)) {
				if w != nil {
					w.color = rbRed
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.left == nil || w.left.color == rbBlack {
					if w.right != nil {
						w.right.color = rbBlack
					}
					w.color = rbRed
					t.rotateLeft(w)
					w = xParent.left
				}
				w.color = xParent.color
				xParent.color = rbBlack
				if w.left != nil {
					w.left.color = rbBlack
				}
				t.rotateRight(xParent)
				x = t.root
			}
		}
	}
	if x != nil {
		x.color = rbBlack
	}
}
