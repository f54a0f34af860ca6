package accounting

import (
	"fmt"
	"sort"
	"strings"
)

// Chart is a validated, read-only chart of accounts. Parent references must
// resolve and the hierarchy must be acyclic.
type Chart struct {
	accounts []Account
	byID     map[int64]int
	children map[int64][]int64
	roots    []int64
}

// NewChart validates accounts and indexes the hierarchy. Accounts and
// children are ordered by code ascending.
func NewChart(accounts []Account) (*Chart, error) {
	sorted := append([]Account(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	c := &Chart{
		accounts: sorted,
		byID:     make(map[int64]int, len(sorted)),
		children: make(map[int64][]int64),
	}
	codes := make(map[string]struct{}, len(sorted))
	for idx, acc := range sorted {
		if acc.ID == 0 {
			return nil, fmt.Errorf("accounting: account %q missing id", acc.Code)
		}
		if strings.TrimSpace(acc.Code) == "" {
			return nil, fmt.Errorf("accounting: account %d missing code", acc.ID)
		}
		if !acc.Type.Valid() {
			return nil, fmt.Errorf("%w: account %s has %q", ErrInvalidAccountType, acc.Code, string(acc.Type))
		}
		if _, dup := c.byID[acc.ID]; dup {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateAccount, acc.ID)
		}
		if _, dup := codes[acc.Code]; dup {
			return nil, fmt.Errorf("%w: code %s", ErrDuplicateAccount, acc.Code)
		}
		c.byID[acc.ID] = idx
		codes[acc.Code] = struct{}{}
	}
	for _, acc := range sorted {
		if acc.ParentID == nil {
			c.roots = append(c.roots, acc.ID)
			continue
		}
		if _, ok := c.byID[*acc.ParentID]; !ok {
			return nil, fmt.Errorf("%w: parent %d of account %s", ErrUnknownAccount, *acc.ParentID, acc.Code)
		}
		c.children[*acc.ParentID] = append(c.children[*acc.ParentID], acc.ID)
	}
	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chart) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[int64]int, len(c.accounts))
	for _, acc := range c.accounts {
		path := make([]int64, 0, 4)
		id := acc.ID
		for {
			if state[id] == done {
				break
			}
			if state[id] == visiting {
				return fmt.Errorf("%w: through account %s", ErrHierarchyCycle, c.mustAccount(id).Code)
			}
			state[id] = visiting
			path = append(path, id)
			parent := c.mustAccount(id).ParentID
			if parent == nil {
				break
			}
			id = *parent
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

func (c *Chart) mustAccount(id int64) Account {
	return c.accounts[c.byID[id]]
}

// Account looks up an account by id.
func (c *Chart) Account(id int64) (Account, bool) {
	if c == nil {
		return Account{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return Account{}, false
	}
	return c.accounts[idx], true
}

// Accounts returns every account ordered by code.
func (c *Chart) Accounts() []Account {
	if c == nil {
		return nil
	}
	return append([]Account(nil), c.accounts...)
}

// Roots returns top-level accounts ordered by code.
func (c *Chart) Roots() []Account {
	if c == nil {
		return nil
	}
	return c.resolve(c.roots)
}

// Children returns direct children of id ordered by code.
func (c *Chart) Children(id int64) []Account {
	if c == nil {
		return nil
	}
	return c.resolve(c.children[id])
}

// Depth returns the number of ancestors of id.
func (c *Chart) Depth(id int64) int {
	depth := 0
	acc, ok := c.Account(id)
	for ok && acc.ParentID != nil {
		depth++
		acc, ok = c.Account(*acc.ParentID)
	}
	return depth
}

// Len returns the number of accounts.
func (c *Chart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.accounts)
}

func (c *Chart) resolve(ids []int64) []Account {
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.mustAccount(id))
	}
	return out
}
