package rivet

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Ensure that the page type can be returned in human readable format.
func TestPage_typ(t *testing.T) {
	assert.Equal(t, "branch", (&page{flags: branchPageFlag}).typ())
	assert.Equal(t, "leaf", (&page{flags: leafPageFlag}).typ())
	assert.Equal(t, "meta", (&page{flags: metaPageFlag}).typ())
	assert.Equal(t, "freelist", (&page{flags: freelistPageFlag}).typ())
	assert.Equal(t, "unknown<4e20>", (&page{flags: 20000}).typ())
}

// Ensure that pages are sorted by id.
func TestPages_sort(t *testing.T) {
	list := pages{&page{id: 5}, &page{id: 2}, &page{id: 9}}
	sort.Sort(list)
	assert.Equal(t, pgid(2), list[0].id)
	assert.Equal(t, pgid(5), list[1].id)
	assert.Equal(t, pgid(9), list[2].id)
}

// Ensure that two page id lists merge into one sorted list.
func TestPgids_merge(t *testing.T) {
	a := pgids{4, 5, 6, 10, 11, 12, 13, 27}
	b := pgids{1, 3, 8, 9, 25, 30}
	c := a.merge(b)
	assert.Equal(t, pgids{1, 3, 4, 5, 6, 8, 9, 10, 11, 12, 13, 25, 27, 30}, c)
}
