package shared

import "review_pipeline/internal/domain"

func DefaultSentimentAttributes() []Attribute {
	return []Attribute{
		{Name: "staff_satisfaction", Description: "Sentiment about any kind of staff. Owner, nurses, doctors, receptionist etc."},
		{Name: "scheduling", Description: "Sentiment about wait times, proper scheduling, good timing, sticking with appointments."},
		{Name: "treatment_satisfaction", Description: "Sentiment about clinical competence, effectiveness of the treatment, competency of the expert and the knowledgeability, careful examination."},
		{Name: "onsite_communication", Description: "Sentiment about clear, transparent explanation of procedures and risks, clear answering of questions, no language barrier (via translators etc.)."},
		{Name: "facility", Description: "Sentiment about cleanliness, modern equipment, sufficient amenities."},
		{Name: "post_op", Description: "Sentiment about follow up communication and attention post operation."},
		{Name: "affordability", Description: "Sentiment about price level, affordability. Cheap is positive, expensive is negative."},
		{Name: "recommendation", Description: "Does the review indicate recommendation or would the patient visit here again?"},
		{Name: "accommodation_transportation", Description: "Sentiment about the accommodation and transportation services."},
	}
}

func DefaultResponseAttributes() []Attribute {
	requires := []string{domain.AttrHasResponse, domain.AttrIsComplaint}
	return []Attribute{
		{Name: domain.AttrHasConstructiveResponse, Description: "Does the response explain the situation or offer a solution?", Requires: requires},
		{Name: "has_no_threat", Description: "Does the response threaten the reviewer with a legal action?", Requires: requires},
	}
}
