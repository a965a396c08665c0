package secrets

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// kmsDecrypter is the subset of the KMS API needed to decrypt the token.
type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSToken decrypts a base64 ciphertext blob, e.g. one produced by
// `aws kms encrypt` and shipped in the environment. The plaintext is kept
// until Invalidate.
type KMSToken struct {
	*cache
	client     kmsDecrypter
	keyID      string
	ciphertext string
}

// NewKMSToken pins decryption to keyID when it is non-empty.
func NewKMSToken(client kmsDecrypter, keyID, ciphertextB64 string, onFetch func(error)) *KMSToken {
	t := &KMSToken{client: client, keyID: keyID, ciphertext: strings.TrimSpace(ciphertextB64)}
	t.cache = newCache("kms", 0, t.decrypt, onFetch)
	return t
}

func (t *KMSToken) decrypt(ctx context.Context) (string, error) {
	if t.client == nil {
		return "", xerrors.New("kms client is not configured")
	}
	blob, err := base64.StdEncoding.DecodeString(t.ciphertext)
	if err != nil {
		return "", xerrors.Wrap(err, "decode token ciphertext")
	}
	in := &kms.DecryptInput{CiphertextBlob: blob}
	if t.keyID != "" {
		in.KeyId = aws.String(t.keyID)
	}
	out, err := t.client.Decrypt(ctx, in)
	if err != nil {
		return "", xerrors.Wrap(err, "kms decrypt token")
	}
	return string(out.Plaintext), nil
}
