package validation

import "hotelcctv/internal/pipeline"

// DefaultPrompts are used when a camera has no override
var DefaultPrompts = map[pipeline.EventType]string{
	pipeline.EventCash: `Analyze this CCTV image from a hotel front desk or cash register area.
Determine if there is a CASH TRANSACTION happening.

Look for these signs of a cash transaction:
1. A cashier behind a counter or register
2. A customer in front of the counter
3. Hands exchanging money
4. Cash register or POS terminal visible
5. Hand reaching into a cash drawer

Respond in JSON format ONLY:
{"accepted": true/false, "confidence": 0.0-1.0, "reason": "brief explanation"}`,

	pipeline.EventViolence: `Analyze this CCTV image for VIOLENCE or PHYSICAL ALTERCATION.

Look for these signs of violence:
1. People in fighting poses
2. Physical contact between people such as punching, pushing or grabbing
3. Aggressive body language
4. People on the ground after being pushed or hit

Do NOT flag as violence: normal standing or walking, handshakes, people simply close together.

Respond in JSON format ONLY:
{"accepted": true/false, "confidence": 0.0-1.0, "reason": "brief explanation"}`,

	pipeline.EventFire: `Analyze this CCTV image for FIRE or SMOKE.

Look for these signs of fire:
1. Visible flames
2. White, gray or black smoke
3. Unusual lighting that could indicate fire

Do NOT flag as fire: normal lighting, red or orange objects, steam from cooking, sunlight reflections.

Respond in JSON format ONLY:
{"accepted": true/false, "confidence": 0.0-1.0, "reason": "brief explanation"}`,
}

// answerKeys are the boolean fields accepted as the verdict, in order
var answerKeys = []string{"accepted", "is_cash_transaction", "is_violence", "is_fire", "valid"}
