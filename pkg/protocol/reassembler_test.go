package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fragments 把消息体按 size 拆成分包，起始流水号为 firstSN
func fragments(t *testing.T, firstSN uint16, body []byte, size int) []*Message {
	t.Helper()
	p, err := NewPackagerForSIM("13800138000", false, size)
	require.NoError(t, err)
	msgs := p.Build(0x0801, firstSN, body)
	// 经过一次编解码，和线上收到的消息一致
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		parsed, err := DecodeFrame(m.Frame())
		require.NoError(t, err)
		out[i] = parsed
	}
	return out
}

func TestReassembler_OrderIndependent(t *testing.T) {
	body := append(append(bytes.Repeat([]byte{0x11}, 4), bytes.Repeat([]byte{0x22}, 4)...), bytes.Repeat([]byte{0x33}, 2)...)
	parts := fragments(t, 100, body, 4)
	require.Len(t, parts, 3)

	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range permutations {
		r := NewReassembler()
		var merged []*MergedMessage
		for _, i := range perm {
			if m := r.Add(parts[i]); m != nil {
				merged = append(merged, m)
			}
		}
		require.Len(t, merged, 1, "顺序 %v 应只合并出一条消息", perm)
		assert.Equal(t, body, merged[0].Body)
		assert.Equal(t, uint16(100), merged[0].Header.SN)
		require.Len(t, merged[0].Fragments, 3)
		for i, f := range merged[0].Fragments {
			assert.Equal(t, uint16(i+1), f.Header.FragIndex)
		}
		assert.Equal(t, 0, r.Pending())
	}
}

func TestReassembler(t *testing.T) {
	t.Run("未分包消息直接返回", func(t *testing.T) {
		r := NewReassembler()
		p, err := NewPackagerForSIM("13800138000", false, 0)
		require.NoError(t, err)
		msg := p.Build(0x0200, 1, []byte{1, 2})[0]
		merged := r.Add(msg)
		require.NotNil(t, merged)
		assert.Equal(t, []byte{1, 2}, merged.Body)
		assert.Len(t, merged.Fragments, 1)
	})

	t.Run("两组分包交错到达", func(t *testing.T) {
		a := fragments(t, 10, []byte("aaaabbbb"), 4)
		b := fragments(t, 20, []byte("ccccdddd"), 4)
		r := NewReassembler()
		assert.Nil(t, r.Add(a[1]))
		assert.Nil(t, r.Add(b[0]))
		assert.Equal(t, 2, r.Pending())

		mb := r.Add(b[1])
		require.NotNil(t, mb)
		assert.Equal(t, []byte("ccccdddd"), mb.Body)

		ma := r.Add(a[0])
		require.NotNil(t, ma)
		assert.Equal(t, []byte("aaaabbbb"), ma.Body)
	})

	t.Run("流水号回绕", func(t *testing.T) {
		parts := fragments(t, 0xFFFF, []byte("xxxxyyyyzz"), 4)
		require.Equal(t, uint16(0xFFFF), parts[0].Header.SN)
		require.Equal(t, uint16(0x0001), parts[2].Header.SN)
		r := NewReassembler()
		assert.Nil(t, r.Add(parts[2]))
		assert.Nil(t, r.Add(parts[0]))
		merged := r.Add(parts[1])
		require.NotNil(t, merged)
		assert.Equal(t, []byte("xxxxyyyyzz"), merged.Body)
	})

	t.Run("重复分包不提前完成", func(t *testing.T) {
		parts := fragments(t, 1, []byte("aaaabbbbcc"), 4)
		r := NewReassembler()
		assert.Nil(t, r.Add(parts[0]))
		assert.Nil(t, r.Add(parts[0]))
		assert.Nil(t, r.Add(parts[1]))
		assert.NotNil(t, r.Add(parts[2]))
	})

	t.Run("未完成分组数量有上限", func(t *testing.T) {
		r := NewReassembler()
		for i := 0; i < DefaultMaxPendingGroups+10; i++ {
			parts := fragments(t, uint16(i*4), []byte("aaaabbbb"), 4)
			r.Add(parts[0])
		}
		assert.Equal(t, DefaultMaxPendingGroups, r.Pending())
	})
}

func TestStreamParser(t *testing.T) {
	parts := fragments(t, 7, []byte("hello, fragmented world"), 8)
	var stream []byte
	for i := len(parts) - 1; i >= 0; i-- {
		stream = append(stream, parts[i].Frame()...)
	}

	p := NewStreamParser(0)
	p.Feed(stream)
	merged, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, []byte("hello, fragmented world"), merged.Body)
	assert.Equal(t, "13800138000", merged.Header.SIM)

	merged, err = p.Next()
	assert.NoError(t, err)
	assert.Nil(t, merged)
	assert.Equal(t, 0, p.PendingFragments())
}
