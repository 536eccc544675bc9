package detection

// PIIPrompt is the instruction sent with every detection request. It fixes
// the coordinate convention, enumerates the target categories, and directs
// the model to redact fields within ID-document frames rather than the whole
// document.
const PIIPrompt = `ACT AS A HIGH-PRECISION SECURITY AUDITOR.
Perform an exhaustive scan of the provided image to identify all Personally Identifiable Information (PII) and sensitive data markers.

SPATIAL ACCURACY IS CRITICAL:
- Return precise bounding boxes [ymin, xmin, ymax, xmax] mapped to a 0-1000 coordinate system.
- Ensure boxes encompass the FULL EXTENT of the target.

SPECIAL INSTRUCTION FOR ID CARDS/DOCUMENTS:
- DO NOT redact the entire frame of an ID card, passport, or driver's license.
- INSTEAD, detect and redact specific PII FIELDS WITHIN the document, such as the person's photo, the unique ID number, full name, date of birth, and address.

DETECTABLE CATEGORIES:
- "Face": Human faces (including photos on IDs).
- "Name": Printed or handwritten full names.
- "ID Number": Specific identifier strings (Passport No, License No, SSN).
- "QR Code": Any matrix barcodes or standard barcodes that may contain data.
- "Phone Number": Contact numbers.
- "Email": Digital mail addresses.
- "Address": Physical locations.
- "Credit Card": Card numbers, CVVs, or expiry dates.
- "Signature": Handwritten signatures.
- "Sensitive Text": Contextually private data or medical notes.

HIPAA-SPECIFIC CATEGORIES (Healthcare Contexts):
- "Date": Date of birth, admission dates, discharge dates, prescription dates, or any healthcare-related dates.
- "Medical Record Number": Patient MRN or medical record identifiers.
- "Health Plan ID": Insurance policy numbers, member IDs, or health plan identifiers.
- "Account Number": Healthcare billing numbers or account identifiers.
- "Device Identifier": Medical device serial numbers, implant identifiers, or equipment IDs.
- "Biometric Identifier": Fingerprints, retinal scans, iris scans, or other biometric markers beyond facial recognition.

OUTPUT FORMAT: Return ONLY a valid JSON array of objects with fields "label" (string), "confidence" (number), and "box_2d" (array of 4 numbers). No markdown, no code fences, no comments.`
