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
	gocipher "crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// RootPath addresses the whole value in path functions.
	RootPath = "."

	keySaltPrefix    = "streamql-cipher:"
	pbkdf2Iterations = 4096
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrKeyNotFound indicates a cipher key that was never registered.
	ErrKeyNotFound = errors.New("cipher key not found")
	// ErrInvalidCiphertext indicates a value that was not produced by Encrypt.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

type cipherKey struct {
	aead gocipher.AEAD
	mac  []byte
}

// KeyStore holds the cipher keys of every organization, by "org:name".
// Encryption is deterministic: the nonce is derived from the plaintext, so
// equal plaintexts produce equal ciphertexts and can be compared encrypted.
type KeyStore struct {
	sync.RWMutex
	keys map[string]*cipherKey
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: map[string]*cipherKey{}}
}

// KeyName namespaces a key name with its organization.
func KeyName(org, name string) string {
	if strings.HasPrefix(name, org+":") {
		return name
	}
	return org + ":" + name
}

// Register derives a key from secret and stores it under name.
func (s *KeyStore) Register(name, secret string) error {
	if name == "" || secret == "" {
		return errors.New("cipher key name and secret must not be empty")
	}
	derived := pbkdf2.Key([]byte(secret), []byte(keySaltPrefix+name), pbkdf2Iterations,
		chacha20poly1305.KeySize+sha256.Size, sha256.New)
	aead, err := chacha20poly1305.NewX(derived[:chacha20poly1305.KeySize])
	if err != nil {
		return errors.Wrapf(err, "failed to create cipher for key %s", name)
	}
	s.Lock()
	defer s.Unlock()
	s.keys[name] = &cipherKey{aead: aead, mac: derived[chacha20poly1305.KeySize:]}
	return nil
}

// Has tells whether a key is registered.
func (s *KeyStore) Has(name string) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.keys[name]
	return ok
}

func (s *KeyStore) key(name string) (*cipherKey, error) {
	s.RLock()
	defer s.RUnlock()
	k, ok := s.keys[name]
	if !ok {
		return nil, errors.Wrap(ErrKeyNotFound, name)
	}
	return k, nil
}

// Encrypt encrypts plaintext with the named key into base64 text.
func (s *KeyStore) Encrypt(name, plaintext string) (string, error) {
	k, err := s.key(name)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, k.mac)
	mac.Write([]byte(plaintext))
	nonce := mac.Sum(nil)[:k.aead.NonceSize()]
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (s *KeyStore) Decrypt(name, ciphertext string) (string, error) {
	k, err := s.key(name)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < k.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	plain, err := k.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(ErrInvalidCiphertext, err.Error())
	}
	return string(plain), nil
}

// EncryptPath encrypts the string value at a dotted path of a JSON document.
// The root path encrypts the whole text.
func (s *KeyStore) EncryptPath(name, doc, path string) (string, error) {
	return s.transformPath(doc, path, func(v string) (string, error) { return s.Encrypt(name, v) })
}

// DecryptPath reverses EncryptPath.
func (s *KeyStore) DecryptPath(name, doc, path string) (string, error) {
	return s.transformPath(doc, path, func(v string) (string, error) { return s.Decrypt(name, v) })
}

func (s *KeyStore) transformPath(doc, path string, fn func(string) (string, error)) (string, error) {
	if path == "" || path == RootPath {
		return fn(doc)
	}
	keys := strings.Split(strings.TrimPrefix(path, "."), ".")
	value, err := jsonparser.GetString([]byte(doc), keys...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read path %s", path)
	}
	out, err := fn(value)
	if err != nil {
		return "", err
	}
	quoted, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	updated, err := jsonparser.Set([]byte(doc), quoted, keys...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to write path %s", path)
	}
	return string(updated), nil
}
