package lru

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	l := New[string, int](3)
	l.Add("one", 1)
	l.Add("two", 2)
	l.Add("three", 3)
	_, ok := l.Get("one")
	a.True(ok)
	a.Equal(3, l.Len())
	l.Add("four", 4)
	a.Equal(3, l.Len())

	_, ok = l.Get("two")
	a.False(ok)

	lruOrder := []string{"four", "one", "three"}
	el := l.list.Front()
	for _, v := range lruOrder {
		_, ok := l.items[v]
		a.True(ok)
		a.Equal(v, el.Value.(entry[string, int]).key)
		el = el.Next()
	}
}

func TestLRUUpdate(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	l := New[uint32, string](2)
	l.Add(1, "a")
	l.Add(1, "b")
	a.Equal(1, l.Len())
	v, ok := l.Get(1)
	a.True(ok)
	a.Equal("b", v)
}

func TestGetOrLoad(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	l := New[string, string](2)
	loads := 0
	load := func(k string) (string, error) {
		loads++
		if k == "bad" {
			return "", errors.New("not found")
		}
		return k + "!", nil
	}

	for i := 0; i < 3; i++ {
		v, err := l.GetOrLoad("key", load)
		a.NoError(err)
		a.Equal("key!", v)
	}
	a.Equal(1, loads)

	_, err := l.GetOrLoad("bad", load)
	a.Error(err)
	_, err = l.GetOrLoad("bad", load)
	a.Error(err)
	a.Equal(3, loads)
}
