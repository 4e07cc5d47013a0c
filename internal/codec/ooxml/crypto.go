package ooxml

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"hash"
	"unicode/utf16"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/codec/cfb"
)

// ECMA-376 agile encryption: the package is wrapped in a compound file
// holding an EncryptionInfo descriptor and the AES-encrypted package
// stream.

const (
	nsEncryption   = "http://schemas.microsoft.com/office/2006/encryption"
	nsKeyPassword  = "http://schemas.microsoft.com/office/2006/keyEncryptor/password"
	uriKeyPassword = nsKeyPassword
	segmentSize    = 4096
	defaultSpin    = 100000
)

var (
	blockVerifierInput = []byte{0xfe, 0xa7, 0xd2, 0x76, 0x3b, 0x4b, 0x9e, 0x79}
	blockVerifierHash  = []byte{0xd7, 0xaa, 0x0f, 0x6d, 0x30, 0x61, 0x34, 0x4e}
	blockKeyValue      = []byte{0x14, 0x6e, 0x0b, 0xe7, 0xab, 0xac, 0xd0, 0xd6}
	blockHmacKey       = []byte{0x5f, 0xb2, 0xad, 0x01, 0x0c, 0xb9, 0xe1, 0xf6}
	blockHmacValue     = []byte{0xa0, 0x67, 0x7f, 0x02, 0xb2, 0x2c, 0x84, 0x33}
)

type keyParams struct {
	SaltSize        int    `xml:"saltSize,attr"`
	BlockSize       int    `xml:"blockSize,attr"`
	KeyBits         int    `xml:"keyBits,attr"`
	HashSize        int    `xml:"hashSize,attr"`
	CipherAlgorithm string `xml:"cipherAlgorithm,attr"`
	CipherChaining  string `xml:"cipherChaining,attr"`
	HashAlgorithm   string `xml:"hashAlgorithm,attr"`
	SaltValue       string `xml:"saltValue,attr"`
}

type passwordKey struct {
	keyParams
	SpinCount                  int    `xml:"spinCount,attr"`
	EncryptedVerifierHashInput string `xml:"encryptedVerifierHashInput,attr"`
	EncryptedVerifierHashValue string `xml:"encryptedVerifierHashValue,attr"`
	EncryptedKeyValue          string `xml:"encryptedKeyValue,attr"`
}

type encryptionDescriptor struct {
	XMLName       xml.Name  `xml:"encryption"`
	KeyData       keyParams `xml:"keyData"`
	DataIntegrity struct {
		EncryptedHmacKey   string `xml:"encryptedHmacKey,attr"`
		EncryptedHmacValue string `xml:"encryptedHmacValue,attr"`
	} `xml:"dataIntegrity"`
	KeyEncryptors []struct {
		URI          string      `xml:"uri,attr"`
		EncryptedKey passwordKey `xml:"encryptedKey"`
	} `xml:"keyEncryptors>keyEncryptor"`
}

func newHash(name string) (func() hash.Hash, error) {
	switch name {
	case "SHA1", "SHA-1":
		return sha1.New, nil
	case "SHA256", "SHA-256":
		return sha256.New, nil
	case "SHA384", "SHA-384":
		return sha512.New384, nil
	case "SHA512", "SHA-512":
		return sha512.New, nil
	}
	return nil, fmt.Errorf("%w: hash algorithm %q", codec.ErrUnsupportedFormat, name)
}

func digest(h func() hash.Hash, parts ...[]byte) []byte {
	d := h()
	for _, p := range parts {
		d.Write(p)
	}
	return d.Sum(nil)
}

// fitTo truncates b to n bytes or pads it with 0x36.
func fitTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	return append(bytes.Clone(b), bytes.Repeat([]byte{0x36}, n-len(b))...)
}

func le32(n uint32) []byte { return binary.LittleEndian.AppendUint32(nil, n) }

// passwordHash is the iterated hash every password key derives from.
func passwordHash(h func() hash.Hash, salt []byte, password string, spin int) []byte {
	pw := utf16.Encode([]rune(password))
	buf := make([]byte, 0, len(pw)*2)
	for _, c := range pw {
		buf = binary.LittleEndian.AppendUint16(buf, c)
	}
	sum := digest(h, salt, buf)
	for i := 0; i < spin; i++ {
		sum = digest(h, le32(uint32(i)), sum)
	}
	return sum
}

func deriveKey(h func() hash.Hash, pwHash, block []byte, keyBytes int) []byte {
	return fitTo(digest(h, pwHash, block), keyBytes)
}

func cbc(key, iv, data []byte, encrypt bool) ([]byte, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%blk.BlockSize() != 0 {
		data = append(bytes.Clone(data), make([]byte, blk.BlockSize()-len(data)%blk.BlockSize())...)
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(blk, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(blk, iv).CryptBlocks(out, data)
	}
	return out, nil
}

// cryptPackage encrypts or decrypts the package stream body segment by
// segment; each segment's IV derives from its index.
func cryptPackage(h func() hash.Hash, key, salt []byte, blockSize int, data []byte, encrypt bool) ([]byte, error) {
	var out []byte
	for i := 0; len(data) > 0; i++ {
		n := min(segmentSize, len(data))
		iv := fitTo(digest(h, salt, le32(uint32(i))), blockSize)
		seg, err := cbc(key, iv, data[:n], encrypt)
		if err != nil {
			return nil, err
		}
		out = append(out, seg...)
		data = data[n:]
	}
	return out, nil
}

func isEncryptedPackage(data []byte) bool {
	if !cfb.IsCompoundFile(data) {
		return false
	}
	cf, err := cfb.NewReader(bytes.NewReader(data), int64(len(data)))
	return err == nil && cf.Has("EncryptionInfo") && cf.Has("EncryptedPackage")
}

// decryptPackage returns the ZIP package held in an encrypted compound
// file.
func decryptPackage(data []byte, password string) ([]byte, error) {
	cf, err := cfb.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, codec.Corruptf("encrypted package: %v", err)
	}
	info, err := cf.ReadStream("EncryptionInfo")
	if err != nil {
		return nil, codec.Corruptf("encrypted package: %v", err)
	}
	if len(info) < 8 {
		return nil, codec.Corruptf("encryption info is truncated")
	}
	major, minor := binary.LittleEndian.Uint16(info), binary.LittleEndian.Uint16(info[2:])
	if major != 4 || minor != 4 {
		return nil, fmt.Errorf("%w: encryption version %d.%d", codec.ErrUnsupportedFormat, major, minor)
	}
	if password == "" {
		return nil, codec.ErrPasswordRequired
	}
	var desc encryptionDescriptor
	if err := xml.Unmarshal(info[8:], &desc); err != nil {
		return nil, codec.Corruptf("encryption info: %v", err)
	}
	var pk *passwordKey
	for i := range desc.KeyEncryptors {
		if desc.KeyEncryptors[i].URI == uriKeyPassword {
			pk = &desc.KeyEncryptors[i].EncryptedKey
		}
	}
	if pk == nil {
		return nil, fmt.Errorf("%w: no password key encryptor", codec.ErrUnsupportedFormat)
	}
	if pk.CipherAlgorithm != "AES" || desc.KeyData.CipherAlgorithm != "AES" {
		return nil, fmt.Errorf("%w: cipher %q", codec.ErrUnsupportedFormat, pk.CipherAlgorithm)
	}
	pwH, err := newHash(pk.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	dataH, err := newHash(desc.KeyData.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	b64 := func(s string) []byte {
		b, derr := base64.StdEncoding.DecodeString(s)
		if derr != nil && err == nil {
			err = codec.Corruptf("encryption info: %v", derr)
		}
		return b
	}
	pwSalt := b64(pk.SaltValue)
	verifierInput := b64(pk.EncryptedVerifierHashInput)
	verifierHash := b64(pk.EncryptedVerifierHashValue)
	keyValue := b64(pk.EncryptedKeyValue)
	dataSalt := b64(desc.KeyData.SaltValue)
	hmacKeyEnc := b64(desc.DataIntegrity.EncryptedHmacKey)
	hmacValueEnc := b64(desc.DataIntegrity.EncryptedHmacValue)
	if err != nil {
		return nil, err
	}

	keyBytes := pk.KeyBits / 8
	pwHash := passwordHash(pwH, pwSalt, password, pk.SpinCount)
	input, err := cbc(deriveKey(pwH, pwHash, blockVerifierInput, keyBytes), pwSalt, verifierInput, false)
	if err != nil {
		return nil, codec.Corruptf("verifier: %v", err)
	}
	expected, err := cbc(deriveKey(pwH, pwHash, blockVerifierHash, keyBytes), pwSalt, verifierHash, false)
	if err != nil {
		return nil, codec.Corruptf("verifier: %v", err)
	}
	got := digest(pwH, input[:pk.SaltSize])
	if len(expected) < len(got) || !hmac.Equal(got, expected[:len(got)]) {
		return nil, codec.ErrWrongPassword
	}
	secret, err := cbc(deriveKey(pwH, pwHash, blockKeyValue, keyBytes), pwSalt, keyValue, false)
	if err != nil {
		return nil, codec.Corruptf("key: %v", err)
	}
	secret = secret[:desc.KeyData.KeyBits/8]

	stream, err := cf.ReadStream("EncryptedPackage")
	if err != nil || len(stream) < 8 {
		return nil, codec.Corruptf("encrypted package stream is missing or truncated")
	}
	if hmacKeyEnc != nil && hmacValueEnc != nil {
		bs := desc.KeyData.BlockSize
		hk, err := cbc(secret, fitTo(digest(dataH, dataSalt, blockHmacKey), bs), hmacKeyEnc, false)
		if err != nil {
			return nil, codec.Corruptf("integrity key: %v", err)
		}
		hv, err := cbc(secret, fitTo(digest(dataH, dataSalt, blockHmacValue), bs), hmacValueEnc, false)
		if err != nil {
			return nil, codec.Corruptf("integrity value: %v", err)
		}
		size := desc.KeyData.HashSize
		mac := hmac.New(dataH, hk[:size])
		mac.Write(stream)
		if !hmac.Equal(mac.Sum(nil), hv[:size]) {
			return nil, codec.Corruptf("encrypted package fails its integrity check")
		}
	}
	size := binary.LittleEndian.Uint64(stream)
	plain, err := cryptPackage(dataH, secret, dataSalt, desc.KeyData.BlockSize, stream[8:], false)
	if err != nil {
		return nil, codec.Corruptf("decrypt package: %v", err)
	}
	if size > uint64(len(plain)) {
		return nil, codec.Corruptf("encrypted package is truncated")
	}
	return plain[:size], nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// encryptPackage wraps a ZIP package with agile encryption using
// AES-256 and SHA-512. Salts and keys are random, so the output differs
// on every call.
func encryptPackage(pkg []byte, password string) ([]byte, error) {
	const keyBytes, blockSize, hashSize, saltSize = 32, 16, 64, 16
	h := sha512.New
	secret := randomBytes(keyBytes)
	dataSalt := randomBytes(saltSize)
	pwSalt := randomBytes(saltSize)
	verifier := randomBytes(saltSize)
	hmacKey := randomBytes(hashSize)

	body, err := cryptPackage(h, secret, dataSalt, blockSize, pkg, true)
	if err != nil {
		return nil, err
	}
	stream := append(binary.LittleEndian.AppendUint64(nil, uint64(len(pkg))), body...)
	mac := hmac.New(h, hmacKey)
	mac.Write(stream)

	pwHash := passwordHash(h, pwSalt, password, defaultSpin)
	enc := func(key, iv, data []byte) string {
		out, cerr := cbc(key, iv, data, true)
		if cerr != nil && err == nil {
			err = cerr
		}
		return base64.StdEncoding.EncodeToString(out)
	}
	hmacKeyEnc := enc(secret, fitTo(digest(h, dataSalt, blockHmacKey), blockSize), hmacKey)
	hmacValueEnc := enc(secret, fitTo(digest(h, dataSalt, blockHmacValue), blockSize), mac.Sum(nil))
	verifierEnc := enc(deriveKey(h, pwHash, blockVerifierInput, keyBytes), pwSalt, verifier)
	verifierHashEnc := enc(deriveKey(h, pwHash, blockVerifierHash, keyBytes), pwSalt, digest(h, verifier))
	keyEnc := enc(deriveKey(h, pwHash, blockKeyValue, keyBytes), pwSalt, secret)
	if err != nil {
		return nil, err
	}

	params := []string{
		"saltSize", itoa(saltSize), "blockSize", itoa(blockSize), "keyBits", itoa(keyBytes * 8),
		"hashSize", itoa(hashSize), "cipherAlgorithm", "AES", "cipherChaining", "ChainingModeCBC",
		"hashAlgorithm", "SHA512",
	}
	x := newXMLWriter()
	x.open("encryption", "xmlns", nsEncryption, "xmlns:p", nsKeyPassword)
	x.empty("keyData", append(params, "saltValue", base64.StdEncoding.EncodeToString(dataSalt))...)
	x.empty("dataIntegrity", "encryptedHmacKey", hmacKeyEnc, "encryptedHmacValue", hmacValueEnc)
	x.open("keyEncryptors")
	x.open("keyEncryptor", "uri", uriKeyPassword)
	x.empty("p:encryptedKey", append([]string{"spinCount", itoa(defaultSpin)}, append(params,
		"saltValue", base64.StdEncoding.EncodeToString(pwSalt),
		"encryptedVerifierHashInput", verifierEnc,
		"encryptedVerifierHashValue", verifierHashEnc,
		"encryptedKeyValue", keyEnc)...)...)
	x.close("keyEncryptor")
	x.close("keyEncryptors")
	x.close("encryption")

	info := binary.LittleEndian.AppendUint16(nil, 4)
	info = binary.LittleEndian.AppendUint16(info, 4)
	info = binary.LittleEndian.AppendUint32(info, 0x40)
	info = append(info, x.Bytes()...)

	w := cfb.NewWriter()
	streams := []struct {
		path string
		data []byte
	}{
		{"EncryptionInfo", info},
		{"EncryptedPackage", stream},
		{"\x06DataSpaces/Version", dataSpaceVersion()},
		{"\x06DataSpaces/DataSpaceMap", dataSpaceMap()},
		{"\x06DataSpaces/DataSpaceInfo/StrongEncryptionDataSpace", dataSpaceInfo()},
		{"\x06DataSpaces/TransformInfo/StrongEncryptionTransform/\x06Primary", transformInfo()},
	}
	for _, s := range streams {
		if err := w.AddStream(s.path, s.data); err != nil {
			return nil, err
		}
	}
	var out bytes.Buffer
	if _, err := w.WriteTo(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// lpString is a length-prefixed UTF-16 string padded to four bytes.
func lpString(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := le32(uint32(len(u) * 2))
	for _, c := range u {
		b = binary.LittleEndian.AppendUint16(b, c)
	}
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// version11 is a reader, updater and writer version triple of 1.0.
var version11 = []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}

func dataSpaceVersion() []byte {
	return append(lpString("Microsoft.Container.DataSpaces"), version11...)
}

func dataSpaceMap() []byte {
	entry := append(le32(1), le32(0)...)
	entry = append(entry, lpString("EncryptedPackage")...)
	entry = append(entry, lpString("StrongEncryptionDataSpace")...)
	b := append(le32(8), le32(1)...)
	b = append(b, le32(uint32(len(entry)+4))...)
	return append(b, entry...)
}

func dataSpaceInfo() []byte {
	b := append(le32(8), le32(1)...)
	return append(b, lpString("StrongEncryptionTransform")...)
}

func transformInfo() []byte {
	id := lpString("{FF9A3F03-56EF-4613-BDD5-5A41C1D07246}")
	b := le32(uint32(8 + len(id)))
	b = append(b, le32(1)...)
	b = append(b, id...)
	b = append(b, lpString("Microsoft.Container.EncryptionTransform")...)
	b = append(b, version11...)
	// Encryption transform info: empty name, block size, cipher mode,
	// reserved.
	b = append(b, le32(0)...)
	b = append(b, le32(0)...)
	b = append(b, le32(0)...)
	return append(b, le32(4)...)
}
