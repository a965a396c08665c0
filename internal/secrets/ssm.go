package secrets

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// ssmParameterGetter is the subset of the SSM API needed to read the token.
// Extracted as an interface to enable unit testing without live AWS credentials.
type ssmParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMToken reads the token from a SecureString parameter.
type SSMToken struct {
	*cache
	client ssmParameterGetter
	param  string
}

// NewSSMToken caches the parameter value for ttl; ttl 0 caches until Invalidate.
func NewSSMToken(client ssmParameterGetter, param string, ttl time.Duration, onFetch func(error)) *SSMToken {
	t := &SSMToken{client: client, param: param}
	t.cache = newCache("ssm:"+param, ttl, t.get, onFetch)
	return t
}

func (t *SSMToken) get(ctx context.Context) (string, error) {
	if t.client == nil {
		return "", xerrors.New("ssm client is not configured")
	}
	out, err := t.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(t.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", t.param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", t.param)
	}
	return *out.Parameter.Value, nil
}
