// Package kms adapts key-management services to signing.KeyManager.
package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/domain/signing"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
)

// KMSAPI is the subset of the AWS KMS client used here
type KMSAPI interface {
	Sign(ctx context.Context, params *awskms.SignInput, optFns ...func(*awskms.Options)) (*awskms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *awskms.GetPublicKeyInput, optFns ...func(*awskms.Options)) (*awskms.GetPublicKeyOutput, error)
}

// AWSKeyManager signs digests with AWS KMS asymmetric keys. Private keys
// never leave KMS.
type AWSKeyManager struct {
	client KMSAPI
	logger *zap.Logger
}

var _ signing.KeyManager = (*AWSKeyManager)(nil)

// NewAWSKeyManager loads AWS configuration and builds a KMS client
func NewAWSKeyManager(ctx context.Context, cfg config.SigningConfig, logger *zap.Logger) (*AWSKeyManager, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := awskms.NewFromConfig(awsCfg, func(o *awskms.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewAWSKeyManagerWithClient(client, logger), nil
}

func NewAWSKeyManagerWithClient(client KMSAPI, logger *zap.Logger) *AWSKeyManager {
	return &AWSKeyManager{
		client: client,
		logger: logger.With(zap.String("component", "aws_kms")),
	}
}

func (m *AWSKeyManager) Sign(ctx context.Context, keyID string, digest []byte, alg signing.Algorithm) ([]byte, error) {
	spec, err := signingSpec(alg)
	if err != nil {
		return nil, err
	}

	out, err := m.client.Sign(ctx, &awskms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: spec,
	})
	if err != nil {
		m.logger.Warn("kms sign failed", zap.String("key_id", keyID), zap.Error(err))
		return nil, fmt.Errorf("kms sign with %s: %w", keyID, err)
	}
	return out.Signature, nil
}

func (m *AWSKeyManager) PublicKey(ctx context.Context, keyID string) (string, error) {
	out, err := m.client.GetPublicKey(ctx, &awskms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		m.logger.Warn("kms get public key failed", zap.String("key_id", keyID), zap.Error(err))
		return "", fmt.Errorf("kms get public key %s: %w", keyID, err)
	}
	return signing.EncodeDERPublicKey(out.PublicKey), nil
}

func signingSpec(alg signing.Algorithm) (types.SigningAlgorithmSpec, error) {
	switch alg {
	case signing.AlgorithmRSAPSSSHA256:
		return types.SigningAlgorithmSpecRsassaPssSha256, nil
	case signing.AlgorithmECDSASHA256:
		return types.SigningAlgorithmSpecEcdsaSha256, nil
	default:
		return "", fmt.Errorf("%w: %q", signing.ErrUnsupportedAlgorithm, alg)
	}
}
