package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// Vertex implements the Extractor interface using Gemini on Vertex AI, for
// deployments that authenticate with a GCP service account instead of an
// API key.
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
	maxDim int
}

// NewVertex creates a Vertex Extractor for projectID in region.
func NewVertex(ctx context.Context, projectID, region, modelName string, maxDim int) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex project and region are required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
		TopP:             genai.Ptr[float32](1),
		TopK:             genai.Ptr[int32](32),
		MaxOutputTokens:  genai.Ptr[int32](4096),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
	}

	return &Vertex{
		client: client,
		model:  model,
		maxDim: maxDim,
	}, nil
}

// Extract sends the invoice image to Vertex AI and parses the JSON it returns
func (v *Vertex) Extract(ctx context.Context, imageData []byte, contentType string) (invoice.Raw, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	finalImageData, _, err := prepareImageData(imageData, contentType, v.maxDim)
	if err != nil {
		return nil, err
	}

	resp, err := v.model.GenerateContent(ctx,
		genai.ImageData("png", finalImageData),
		genai.Text(invoicePrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from vertex")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	raw, err := parseExtraction(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing extraction: %w", err)
	}
	return raw, nil
}

// Close closes the Vertex client
func (v *Vertex) Close() error {
	return v.client.Close()
}
