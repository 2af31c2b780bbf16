package billing

import "fmt"

// buildPremiumWelcomeEmail returns the email content for a newly granted premium access.
func buildPremiumWelcomeEmail(userName, packageName, amount, maskedSession, baseURL string) (subject, html, plainText string) {
	subject = "Welcome to Career Coach Premium"

	html = fmt.Sprintf(`
		<html>
		<body>
			<h2>Premium Activated!</h2>
			<p>Hi %s,</p>
			<p>Your <strong>%s</strong> purchase is confirmed. Here's what you get:</p>
			<ul>
				<li>AI-powered personalised study plans</li>
				<li>Unlimited plan regeneration</li>
				<li>Priority support</li>
			</ul>
			<p><strong>Amount paid:</strong> %s<br><strong>Reference:</strong> %s</p>
			<p><a href="%s/dashboard" style="background-color: #4CAF50; color: white; padding: 14px 20px; text-decoration: none; border-radius: 4px; display: inline-block;">Go to Dashboard</a></p>
			<p>Thanks,<br>The Career Coach Team</p>
		</body>
		</html>
	`, userName, packageName, amount, maskedSession, baseURL)

	plainText = fmt.Sprintf(`Hi %s,

Your %s purchase is confirmed. Here's what you get:

- AI-powered personalised study plans
- Unlimited plan regeneration
- Priority support

Amount paid: %s
Reference: %s

Visit your dashboard: %s/dashboard

Thanks,
The Career Coach Team
`, userName, packageName, amount, maskedSession, baseURL)

	return
}
