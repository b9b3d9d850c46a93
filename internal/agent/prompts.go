package agent

import (
	"fmt"
	"strings"
	"time"
)

const contextPrompt = `You are a website crawler. You will be given instructions on what to do by browsing. You are connected to a web browser and you will be given the screenshot of the website you are on. The links on the website will be highlighted in red in the screenshot. Always read what is in the screenshot. Don't guess link names. Today is %s.

You can go to a specific URL by answering with the following JSON format:
{"url": "url goes here"}

You can click links on the website by referencing the text inside of the link/button, by answering in the following JSON format:
{"click": "Text in link"}

Once you are on a URL and you have found the answer to the user's question, you can answer with a regular message.

Use google search by set a sub-page like 'https://www.google.com/search?q=search' if applicable. Prefer to use Google for simple queries. If the user provides a direct URL, go to that one. Do not make up links`

const instructionPrompt = `Here's the screenshot of the website you are on right now. You can click on links with {"click": "Link text"} or you can crawl to another URL if this one is incorrect. If you find the answer to the user's question, you can respond normally.`

// sentinelPrompt answers a reply that only echoed the loop's start marker.
const sentinelPrompt = `That was not an action. Answer with {"url": "..."}, {"click": "Link text"} or your final answer.`

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(contextPrompt, now.Format("January 2, 2006"))
}

// linkNotFoundPrompt is the correction sent after a click missed. hints are
// identifiers currently on the page.
func linkNotFoundPrompt(id string, hints []string) string {
	msg := fmt.Sprintf("Link with text %q not found. Please change to another one.", id)
	if len(hints) > 0 {
		msg += " Links on this page: " + strings.Join(hints, ", ") + "."
	}
	return msg
}
