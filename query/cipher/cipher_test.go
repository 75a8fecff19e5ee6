//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/sql"
)

func parseExpr(t *testing.T, text string) expr.Expr {
	e, err := sql.ParseExpr(text)
	require.NoError(t, err)
	return e
}

func TestKeyStoreRoundTrip(t *testing.T) {
	store := NewKeyStore()
	require.NoError(t, store.Register("default:k", "secret"))
	assert.True(t, store.Has("default:k"))

	enc, err := store.Encrypt("default:k", "hello")
	require.NoError(t, err)
	again, err := store.Encrypt("default:k", "hello")
	require.NoError(t, err)
	assert.Equal(t, enc, again)
	assert.NotEqual(t, "hello", enc)

	plain, err := store.Decrypt("default:k", enc)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	_, err = store.Encrypt("other:k", "hello")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.Decrypt("default:k", "not-a-ciphertext")
	assert.Error(t, err)
}

func TestKeyStorePath(t *testing.T) {
	store := NewKeyStore()
	require.NoError(t, store.Register("default:k", "secret"))

	doc := `{"user":{"email":"a@b.c"},"n":1}`
	enc, err := store.EncryptPath("default:k", doc, "user.email")
	require.NoError(t, err)
	assert.NotContains(t, enc, "a@b.c")
	assert.Contains(t, enc, `"n":1`)

	dec, err := store.DecryptPath("default:k", enc, "user.email")
	require.NoError(t, err)
	assert.JSONEq(t, doc, dec)

	whole, err := store.EncryptPath("default:k", "plain", RootPath)
	require.NoError(t, err)
	direct, _ := store.Encrypt("default:k", "plain")
	assert.Equal(t, direct, whole)
}

func TestSwap(t *testing.T) {
	e := parseExpr(t, "decrypt_path(col, 'k') = 'v'")
	swapped, ok := expr.Rewrite(e, Swap)
	require.True(t, ok)
	assert.Equal(t, "col = encrypt('v', 'k')", swapped.String())

	e = parseExpr(t, "'v' != decrypt(col, 'k')")
	swapped, ok = expr.Rewrite(e, Swap)
	require.True(t, ok)
	assert.Equal(t, "col != encrypt('v', 'k')", swapped.String())

	back, ok := expr.Rewrite(swapped, Unswap)
	require.True(t, ok)
	assert.Equal(t, "decrypt(col, 'k') != 'v'", back.String())

	// explicit path, non literal and non equality comparisons stay.
	for _, text := range []string{
		"decrypt_path(col, 'k', 'a.b') = 'v'",
		"decrypt(col, 'k') = other",
		"decrypt(col, 'k') > 'v'",
	} {
		_, ok := expr.Rewrite(parseExpr(t, text), Swap)
		assert.False(t, ok, text)
	}
}

func TestNamespaceKeys(t *testing.T) {
	ns := NamespaceKeys("org1")
	e := parseExpr(t, "decrypt_path(col, 'k') = 'v' AND encrypt(x, 'org1:j') = 'w'")
	once, ok := expr.Rewrite(e, ns)
	require.True(t, ok)
	assert.Equal(t, "decrypt_path(col, 'org1:k', '.') = 'v' AND encrypt(x, 'org1:j') = 'w'", once.String())

	twice, ok := expr.Rewrite(once, ns)
	assert.False(t, ok)
	assert.Equal(t, once.String(), twice.String())

	assert.Equal(t, "org1:k", KeyName("org1", "k"))
	assert.Equal(t, "org1:k", KeyName("org1", "org1:k"))
}
