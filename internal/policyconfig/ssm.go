package policyconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// ParameterGetter is the subset of *ssm.Client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads an overrides document from one SSM parameter.
type SSMSource struct {
	Client ParameterGetter
	Param  string
	// Known lists the policy names the document may reference.
	Known []string
}

// Load fetches and parses the parameter. SecureString parameters are decrypted.
func (s *SSMSource) Load(ctx context.Context) (Overrides, error) {
	if s.Client == nil {
		return nil, xerrors.New("ssm client is required")
	}
	if s.Param == "" {
		return nil, xerrors.New("ssm parameter name is required")
	}

	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", s.Param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", s.Param)
	}

	raw := strings.TrimSpace(*out.Parameter.Value)
	if raw == "" {
		return nil, xerrors.Newf("SSM parameter %s is empty", s.Param)
	}

	ov, err := Parse([]byte(raw), s.Known)
	if err != nil {
		return nil, xerrors.Wrapf(err, "SSM parameter %s", s.Param)
	}
	return ov, nil
}
