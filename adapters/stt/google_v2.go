package stt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/satriahrh/speechgate/domain/entities"
)

func dialGoogleV2(ctx context.Context, cfg entities.StreamConfig, opts []option.ClientOption) (recognizeConn, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech v2 client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, cfg.Region)
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         cfg.Model,
					LanguageCodes: languageCodes(cfg),
					DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
						AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
					},
					Features: &speechpb.RecognitionFeatures{
						EnableAutomaticPunctuation: true,
					},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &googleV2Conn{client: client, stream: stream}, nil
}

type googleV2Conn struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
}

func (c *googleV2Conn) SendAudio(data []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: data,
		},
	})
}

func (c *googleV2Conn) CloseSend() error {
	return c.stream.CloseSend()
}

func (c *googleV2Conn) Recv() ([]recognitionResult, error) {
	resp, err := c.stream.Recv()
	if err != nil {
		return nil, err
	}

	results := make([]recognitionResult, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		results = append(results, recognitionResult{
			Transcript: alt.GetTranscript(),
			IsFinal:    r.GetIsFinal(),
			Confidence: float32Ptr(alt.GetConfidence()),
			Stability:  float32Ptr(r.GetStability()),
		})
	}
	return results, nil
}

func (c *googleV2Conn) Close() error {
	return c.client.Close()
}
