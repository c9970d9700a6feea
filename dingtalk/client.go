package dingtalk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	webhookURL = "https://oapi.dingtalk.com/robot/send"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	accessToken string
	secret      string
	webhookURL  string
	httpClient  *resty.Client
	keywords    []string
}

func NewClient(option ClientOption) *Client {
	timeout := option.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json; charset=utf-8")

	// DingTalk group robots configured with keyword-based security only
	// deliver messages that contain one of their configured keywords.
	keywords := option.Keywords
	if len(keywords) == 0 {
		keywords = []string{"crawler-alert"}
	}

	return &Client{
		accessToken: option.AccessToken,
		secret:      option.Secret,
		webhookURL:  webhookURL,
		httpClient:  httpClient,
		keywords:    keywords,
	}
}

func (c *Client) Send(msg *Message) error {
	targetURL := c.buildURL()
	
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message failed: %w", err)
	}

	resp, err := c.httpClient.R().
		SetBody(body).
		Post(targetURL)
	
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}

	var result Response
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk api error: code=%d, msg=%s", result.ErrCode, result.ErrMsg)
	}

	return nil
}

func (c *Client) SendText(content string, at *At) error {
	// append the required keyword if the content doesn't already carry one
	content = c.ensureKeyword(content)
	
	msg := &Message{
		MsgType: MsgTypeText,
		Text: &Text{
			Content: content,
		},
		At: at,
	}
	return c.Send(msg)
}

func (c *Client) SendLink(title, text, messageURL string, picURL string) error {
	// append the required keyword to text
	text = c.ensureKeyword(text)
	
	msg := &Message{
		MsgType: MsgTypeLink,
		Link: &Link{
			Title:      title,
			Text:       text,
			MessageURL: messageURL,
			PicURL:     picURL,
		},
	}
	return c.Send(msg)
}

func (c *Client) SendMarkdown(title, text string, at *At) error {
	// append the required keyword to text
	text = c.ensureKeyword(text)
	
	msg := &Message{
		MsgType: MsgTypeMarkdown,
		Markdown: &Markdown{
			Title: title,
			Text:  text,
		},
		At: at,
	}
	return c.Send(msg)
}

func (c *Client) SendActionCard(card *ActionCard) error {
	// append the required keyword to text
	card.Text = c.ensureKeyword(card.Text)
	
	msg := &Message{
		MsgType:    MsgTypeActionCard,
		ActionCard: card,
	}
	return c.Send(msg)
}

func (c *Client) SendFeedCard(links []FeedLink) error {
	msg := &Message{
		MsgType: MsgTypeFeedCard,
		FeedCard: &FeedCard{
			Links: links,
		},
	}
	return c.Send(msg)
}

func (c *Client) buildURL() string {
	params := url.Values{}
	params.Add("access_token", c.accessToken)
	
	if c.secret != "" {
		timestamp := time.Now().UnixMilli()
		sign := c.sign(timestamp)
		params.Add("timestamp", fmt.Sprintf("%d", timestamp))
		params.Add("sign", sign)
	}
	
	return fmt.Sprintf("%s?%s", c.webhookURL, params.Encode())
}

func (c *Client) sign(timestamp int64) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, c.secret)
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *Client) ensureKeyword(content string) string {
	// already carries one of the configured keywords?
	for _, keyword := range c.keywords {
		if strings.Contains(content, keyword) {
			return content
		}
	}
	
	// none present: append the first configured keyword
	if len(c.keywords) > 0 {
		
		return fmt.Sprintf("%s\n\n[%s]", content, c.keywords[0])
	}
	
	return content
}