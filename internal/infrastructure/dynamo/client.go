package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/infrastructure/awsclient"
)

// NewClient creates a DynamoDB client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint so all traffic goes to the local instance.
func NewClient(cfg *config.Config) *dynamodb.Client {
	awsCfg, err := awsclient.Load(context.Background(), cfg, "")
	if err != nil {
		panic("failed to load AWS config: " + err.Error())
	}

	clientOpts := []func(*dynamodb.Options){}
	if ep := awsclient.Endpoint(cfg); ep != nil {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = ep
		})
	}

	return dynamodb.NewFromConfig(awsCfg, clientOpts...)
}
